package handlers

import (
	"context"
	"net/http"
	"strings"

	"civicvoice-backend/auth"
	"civicvoice-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const claimsKey = "authClaims"

// TokenChecker answers revocation checks for the auth middleware
type TokenChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthRequired validates the bearer token, rejects revoked ids, and stores
// the claims in the request context for handlers.
func AuthRequired(secret []byte, tokens TokenChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "invalid authorization header")
			return
		}

		claims, err := auth.Parse(secret, parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		revoked, err := tokens.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		if revoked {
			abortUnauthorized(c, "token revoked")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": message,
	})
}

// currentClaims returns the claims set by AuthRequired
func currentClaims(c *gin.Context) (*auth.Claims, bool) {
	value, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// currentUserID returns the acting user id from the validated claims
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	claims, ok := currentClaims(c)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// currentRole returns the acting user's role from the validated claims
func currentRole(c *gin.Context) models.Role {
	claims, ok := currentClaims(c)
	if !ok {
		return ""
	}
	return models.Role(claims.Role)
}
