package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/models"
	"civicvoice-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PetitionHandler handles HTTP requests for petitions
type PetitionHandler struct {
	petitionService *service.PetitionService
}

// NewPetitionHandler creates a new petition handler
func NewPetitionHandler(petitionService *service.PetitionService) *PetitionHandler {
	return &PetitionHandler{petitionService: petitionService}
}

// List handles GET /peticiones
func (h *PetitionHandler) List(c *gin.Context) {
	petitions, err := h.petitionService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, petitions, "petitions retrieved")
}

// Show handles GET /peticiones/:id
func (h *PetitionHandler) Show(c *gin.Context) {
	id, ok := petitionID(c)
	if !ok {
		return
	}

	petition, err := h.petitionService.GetPetition(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, petition, "petition found")
}

// Mine handles GET /peticiones/mias
func (h *PetitionHandler) Mine(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}

	petitions, err := h.petitionService.ListMine(c.Request.Context(), actorID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, petitions, "my petitions retrieved")
}

// Create handles POST /peticiones (multipart, optional file)
func (h *PetitionHandler) Create(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}

	fields, err := formFields(c)
	if err != nil {
		respondError(c, err)
		return
	}

	file, closeFile, err := formFile(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if closeFile != nil {
		defer closeFile()
	}

	petition, err := h.petitionService.CreatePetition(c.Request.Context(), service.CreatePetitionRequest{
		ActorID: actorID,
		Fields:  fields,
		File:    file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, petition, "petition created")
}

// Update handles PUT /peticiones/:id (multipart, optional file replaces the
// existing attachment)
func (h *PetitionHandler) Update(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}
	id, ok := petitionID(c)
	if !ok {
		return
	}

	fields, err := formFields(c)
	if err != nil {
		respondError(c, err)
		return
	}

	file, closeFile, err := formFile(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if closeFile != nil {
		defer closeFile()
	}

	petition, err := h.petitionService.UpdatePetition(c.Request.Context(), service.UpdatePetitionRequest{
		ActorID:    actorID,
		PetitionID: id,
		Fields:     fields,
		File:       file,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, petition, "petition updated")
}

// Delete handles DELETE /peticiones/:id
func (h *PetitionHandler) Delete(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}
	id, ok := petitionID(c)
	if !ok {
		return
	}

	err := h.petitionService.DeletePetition(c.Request.Context(), service.DeletePetitionRequest{
		ActorID:    actorID,
		PetitionID: id,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, nil, "petition deleted")
}

// Sign handles PUT /peticiones/firmar/:id
func (h *PetitionHandler) Sign(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}
	id, ok := petitionID(c)
	if !ok {
		return
	}

	petition, err := h.petitionService.SignPetition(c.Request.Context(), service.SignPetitionRequest{
		ActorID:    actorID,
		PetitionID: id,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, petition, "petition signed")
}

// Accept handles PUT /peticiones/estado/:id (admin only)
func (h *PetitionHandler) Accept(c *gin.Context) {
	id, ok := petitionID(c)
	if !ok {
		return
	}

	petition, err := h.petitionService.ChangeState(c.Request.Context(), service.ChangeStateRequest{
		ActorRole:  currentRole(c),
		PetitionID: id,
		NewState:   models.StateAccepted,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, petition, "state updated")
}

// petitionID parses the :id path parameter. An unparseable id behaves like
// a missing petition.
func petitionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.NotFound("petition not found"))
		return uuid.Nil, false
	}
	return id, true
}

func formFields(c *gin.Context) (models.PetitionFields, error) {
	fields := models.PetitionFields{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Recipient:   c.PostForm("recipient"),
	}

	rawCategory := c.PostForm("category_id")
	if rawCategory != "" {
		categoryID, err := uuid.Parse(rawCategory)
		if err != nil {
			return fields, apperrors.Validation(map[string]string{"category_id": "invalid category id"})
		}
		fields.CategoryID = categoryID
	}
	return fields, nil
}

// formFile extracts the optional "file" multipart part. Returns a closer
// the caller must defer when a file is present.
func formFile(c *gin.Context) (*service.FileUpload, func(), error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, nil
		}
		return nil, nil, apperrors.Validation(map[string]string{"file": "invalid file upload"})
	}

	opened, err := fileHeader.Open()
	if err != nil {
		return nil, nil, apperrors.Validation(map[string]string{"file": "invalid file upload"})
	}

	upload := &service.FileUpload{
		OriginalName: fileHeader.Filename,
		MimeType:     uploadMimeType(fileHeader),
		Size:         fileHeader.Size,
		Data:         opened,
	}
	return upload, func() { opened.Close() }, nil
}

// uploadMimeType prefers the declared content type, falling back to the
// file extension.
func uploadMimeType(fileHeader *multipart.FileHeader) string {
	if mimeType := fileHeader.Header.Get("Content-Type"); mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch strings.ToLower(filepath.Ext(fileHeader.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
