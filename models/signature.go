package models

import (
	"time"

	"github.com/google/uuid"
)

// Signature records one user endorsing one petition. The (user, petition)
// pair is unique in the database; rows are created only by signing and
// removed only by the petition deletion cascade.
type Signature struct {
	UserID     uuid.UUID `json:"user_id"`
	PetitionID uuid.UUID `json:"petition_id"`
	CreatedAt  time.Time `json:"created_at"`
}
