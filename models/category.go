package models

import "github.com/google/uuid"

// Category is immutable reference data; petitions belong to exactly one category.
type Category struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}
