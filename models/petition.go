package models

import (
	"time"

	"github.com/google/uuid"
)

// PetitionState represents the lifecycle state of a petition
type PetitionState string

const (
	StatePending  PetitionState = "pending"
	StateAccepted PetitionState = "accepted"
)

// Valid reports whether s is a known state.
func (s PetitionState) Valid() bool {
	return s == StatePending || s == StateAccepted
}

// Petition represents a citizen petition.
//
// SignerCount is a derived cache of the number of signature rows for this
// petition; every committed mutation keeps it equal to that count.
type Petition struct {
	ID          uuid.UUID     `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Recipient   string        `json:"recipient"`
	State       PetitionState `json:"state"`
	SignerCount int           `json:"signer_count"`
	CategoryID  uuid.UUID     `json:"category_id"`
	AuthorID    uuid.UUID     `json:"author_id"`

	// Eagerly loaded relations
	Author      *User         `json:"author,omitempty"`
	Category    *Category     `json:"category,omitempty"`
	Attachments []*Attachment `json:"attachments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PetitionFields are the text/category fields a petition owner may edit.
// Signatures and counters are never touched through field updates.
type PetitionFields struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Recipient   string    `json:"recipient"`
	CategoryID  uuid.UUID `json:"category_id"`
}
