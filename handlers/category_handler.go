package handlers

import (
	"net/http"

	"civicvoice-backend/repository"

	"github.com/gin-gonic/gin"
)

// CategoryHandler handles HTTP requests for the category reference table
type CategoryHandler struct {
	categoryRepo *repository.CategoryRepository
}

// NewCategoryHandler creates a new category handler
func NewCategoryHandler(categoryRepo *repository.CategoryRepository) *CategoryHandler {
	return &CategoryHandler{categoryRepo: categoryRepo}
}

// List handles GET /categorias
func (h *CategoryHandler) List(c *gin.Context) {
	categories, err := h.categoryRepo.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, categories, "categories retrieved")
}
