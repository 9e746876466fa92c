package handlers

import (
	"net/http"
	"strings"

	"civicvoice-backend/apperrors"
	"civicvoice-backend/service"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles HTTP requests for registration and sessions
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.ValidationMsg("invalid request body"))
		return
	}

	user, err := h.authService.Register(c.Request.Context(), service.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, user, "user registered")
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /login. On success the token envelope is returned
// directly, matching what API clients expect from a JWT login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Unauthorized("invalid credentials"))
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Refresh handles POST /refresh. The presented bearer token may already be
// expired, as long as it is within the refresh window and not revoked.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw, ok := bearerToken(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("missing authorization header"))
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), raw)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Me handles GET /me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}

	user, err := h.authService.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, user, "current user")
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		respondError(c, apperrors.Unauthorized("invalid token"))
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, nil, "session closed")
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
