package handlers

import (
	"fmt"
	"net/http"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/repository"
	"civicvoice-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AttachmentHandler streams petition attachments from the blob store
type AttachmentHandler struct {
	petitionRepo *repository.PetitionRepository
	storage      storage.Storage
}

// NewAttachmentHandler creates a new attachment handler
func NewAttachmentHandler(petitionRepo *repository.PetitionRepository, storage storage.Storage) *AttachmentHandler {
	return &AttachmentHandler{
		petitionRepo: petitionRepo,
		storage:      storage,
	}
}

// Download handles GET /archivos/:id
func (h *AttachmentHandler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.NotFound("attachment not found"))
		return
	}

	att, err := h.petitionRepo.GetAttachment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), att.StorageKey)
	if err != nil {
		respondError(c, apperrors.Storage(err))
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OriginalName))
	c.DataFromReader(http.StatusOK, att.Size, att.MimeType, reader, nil)
}
