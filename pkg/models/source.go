package models

import (
	"time"

	"github.com/Ramsey-B/fern/internal/database"
)

// StorageStatus tracks whether a source's bytes reached the blob store.
type StorageStatus string

const (
	StorageStatusPending  StorageStatus = "pending"
	StorageStatusUploaded StorageStatus = "uploaded"
	StorageStatusFailed   StorageStatus = "failed"
)

// Source is a content-addressed handle to a raw ingested payload.
type Source struct {
	ID              string                         `json:"id" db:"id"`
	Owner           string                         `json:"owner" db:"owner"`
	ContentHash     string                         `json:"content_hash" db:"content_hash"`
	StorageLocation string                         `json:"-" db:"storage_location"`
	StorageStatus   StorageStatus                  `json:"storage_status" db:"storage_status"`
	MimeType        string                         `json:"mime_type" db:"mime_type"`
	ByteSize        int64                          `json:"byte_size" db:"byte_size"`
	SourceType      string                         `json:"source_type" db:"source_type"`
	Metadata        database.JSONB[map[string]any] `json:"metadata" db:"metadata"`
	CreatedAt       time.Time                      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time                      `json:"updated_at" db:"updated_at"`
}

// PutSourceRequest carries either the raw bytes or, when ingestion streams them
// elsewhere, only their SHA-256.
type PutSourceRequest struct {
	Owner       string         `json:"-"`
	Content     []byte         `json:"content,omitempty"`
	ContentHash string         `json:"content_hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
	MimeType    string         `json:"mime_type"`
	SourceType  string         `json:"source_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
