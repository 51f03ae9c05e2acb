// Package fileid derives content-addressed identifiers for uploads.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "upload:"

// UploadID returns a stable identifier for uploading content under docName.
// The same name and bytes always yield the same ID; changing either changes it.
func UploadID(docName string, content []byte) string {
	h := sha256.New()
	h.Write([]byte(docName))
	h.Write([]byte{0})
	h.Write(content)
	return prefix + hex.EncodeToString(h.Sum(nil))
}
