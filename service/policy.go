package service

import (
	"civicvoice-backend/models"

	"github.com/google/uuid"
)

// CanModify reports whether actor may update or delete petition. Only the
// author may mutate their petition.
func CanModify(actorID uuid.UUID, petition *models.Petition) bool {
	return actorID == petition.AuthorID
}

// CanAccept reports whether a role may move petitions to the accepted state.
func CanAccept(role models.Role) bool {
	return role == models.RoleAdmin
}
