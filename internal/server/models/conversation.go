// Package models defines server-side data models persisted in the metadata
// index and in transcript blobs.
package models

import "time"

// BlobRef addresses a transcript blob in object storage.
type BlobRef struct {
	Bucket string
	Key    string
}

// IsZero reports whether the reference is unset, which is the case for rows
// written before the reference was stored next to the URL.
func (r BlobRef) IsZero() bool {
	return r.Bucket == "" && r.Key == ""
}

// Conversation is the metadata record of a user-owned transcript.
type Conversation struct {
	ID     string
	UserID string
	Title  string
	// FileURL is the last presigned GET URL minted for the blob.
	FileURL string
	// Blob is the authoritative blob location; FileURL is regenerated from it.
	Blob      BlobRef
	CreatedAt time.Time
	UpdatedAt time.Time
}
