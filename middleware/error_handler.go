package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/printglide/renderqueue/common"
)

// ErrorHandler renders the last error attached to the context. APIErrors
// carry their own status; anything else is a 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if apiErr, ok := err.(common.APIError); ok {
			body := gin.H{"error": apiErr.Message}
			if apiErr.Fields != nil {
				body["fields"] = apiErr.Fields
			}
			c.JSON(apiErr.Status, body)
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
