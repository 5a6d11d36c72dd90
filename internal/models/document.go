// Package models contains domain types for the document preview service.
package models

import (
	"strconv"
	"strings"
	"time"
)

// StoredDocument is a blob uploaded against a document-control record.
// Name carries the owner-record prefix and the upload timestamp:
// "<recordID>_<unixMillis>_<originalName>".
type StoredDocument struct {
	ID           string    `json:"id" msgpack:"id"`
	RecordID     string    `json:"recordId" msgpack:"recordId"`
	Name         string    `json:"name" msgpack:"name"`
	OriginalName string    `json:"originalName" msgpack:"originalName"`
	MimeTypeHint string    `json:"mimeTypeHint" msgpack:"mimeTypeHint"`
	Size         int64     `json:"size" msgpack:"size"`
	UploadedAt   time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
	URL          string    `json:"url,omitempty" msgpack:"url,omitempty"` // public or signed
}

// DisplayName strips the "<recordID>_<unixMillis>_" prefix from a stored
// name, leaving the name the user uploaded. Names that do not carry the
// prefix are returned unchanged.
func DisplayName(name string) string {
	first := strings.IndexByte(name, '_')
	if first <= 0 {
		return name
	}
	rest := name[first+1:]
	second := strings.IndexByte(rest, '_')
	if second <= 0 {
		return name
	}
	if _, err := strconv.ParseInt(rest[:second], 10, 64); err != nil {
		return name
	}
	if rest[second+1:] == "" {
		return name
	}
	return rest[second+1:]
}
