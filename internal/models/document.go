// Package models defines core data structures for records, documents, and store filters.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Property names written on every record.
const (
	PropContent  = "content"
	PropDocName  = "doc_name"
	PropDocType  = "doc_type"
	PropUploadID = "upload_id"
)

// StandardProperties lists the record properties in schema order.
var StandardProperties = []string{PropContent, PropDocName, PropDocType, PropUploadID}

// DefaultCollection is used when the schema file is missing or has no class.
const DefaultCollection = "PositiveLibraryDocument"

// Row is one tabular record keyed by column header.
type Row map[string]string

// StoredObject is a record as returned by the store: its identity plus raw properties.
type StoredObject struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection,omitempty"`
	Properties map[string]interface{} `json:"properties"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
}

// DocName returns the doc_name property, or "" when absent.
func (o *StoredObject) DocName() string {
	return stringProp(o.Properties, PropDocName)
}

// DocType returns the doc_type property, or "" when absent.
func (o *StoredObject) DocType() string {
	return stringProp(o.Properties, PropDocType)
}

func stringProp(props map[string]interface{}, key string) string {
	if props == nil {
		return ""
	}
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// DocumentSummary groups the records sharing one doc_name.
type DocumentSummary struct {
	Name    string `json:"doc_name"`
	Type    string `json:"doc_type"`
	Records int    `json:"records"`
}

// Summarize derives one summary per distinct doc_name from a raw listing, sorted by name.
// Records without a doc_name are grouped under UnnamedDocument.
func Summarize(objects []*StoredObject) []DocumentSummary {
	byName := make(map[string]*DocumentSummary)
	for _, o := range objects {
		name := o.DocName()
		if name == "" {
			name = UnnamedDocument
		}
		s, ok := byName[name]
		if !ok {
			s = &DocumentSummary{Name: name, Type: o.DocType()}
			byName[name] = s
		}
		s.Records++
	}
	out := make([]DocumentSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UnnamedDocument labels records stored without a doc_name.
const UnnamedDocument = "(unnamed)"

// ContentString renders a content value for display. Text chunks are returned as-is;
// tabular rows and other structured values are rendered as compact JSON.
func ContentString(v interface{}) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}
