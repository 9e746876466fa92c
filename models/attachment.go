package models

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a stored file owned by a petition. StorageKey addresses the
// blob in the configured storage backend; replacing or deleting the petition
// removes the blob as well.
type Attachment struct {
	ID           uuid.UUID `json:"id"`
	PetitionID   uuid.UUID `json:"petition_id"`
	OriginalName string    `json:"original_name"`
	StorageKey   string    `json:"storage_key"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}
