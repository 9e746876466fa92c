package handlers

import (
	"log"
	"net/http"

	"civicvoice-backend/apperrors"

	"github.com/gin-gonic/gin"
)

// respond writes the standard success envelope
func respond(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// respondError maps a typed domain error to the failure envelope. Untyped
// and internal errors are logged server-side and reported generically.
func respondError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)

	switch kind {
	case apperrors.KindValidation:
		body := gin.H{"success": false, "message": "validation failed"}
		if fields := apperrors.FieldsOf(err); len(fields) > 0 {
			body["errors"] = fields
		} else {
			body["message"] = err.Error()
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case apperrors.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	case apperrors.KindForbidden, apperrors.KindAlreadySigned:
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": err.Error()})
	case apperrors.KindUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": err.Error()})
	default:
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
	}
}
