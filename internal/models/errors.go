package models

import "errors"

// Error taxonomy shared by the core packages. Callers match with errors.Is.
var (
	// ErrConfig indicates required configuration or environment values are missing.
	ErrConfig = errors.New("configuration error")

	// ErrSchemaNotFound indicates the collection does not exist in the store.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrDecode indicates file bytes could not be decoded with any candidate encoding.
	ErrDecode = errors.New("decode error")

	// ErrStoreWrite wraps record store failures while writing.
	ErrStoreWrite = errors.New("store write failed")

	// ErrStoreQuery wraps record store failures while reading.
	ErrStoreQuery = errors.New("store query failed")

	// ErrStoreDelete wraps record store failures while deleting.
	ErrStoreDelete = errors.New("store delete failed")

	// ErrInvalidInput indicates malformed or out-of-range input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")
)
