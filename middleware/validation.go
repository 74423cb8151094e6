package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/printglide/renderqueue/common"
)

var validate = validator.New()

// Bind decodes the request body into dest and validates its tags. On failure
// it attaches the error to the context and returns false; the caller should
// bail out.
func Bind[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "malformed request body: %v", err.Error()))
		return false
	}

	if err := validate.Struct(dest); err != nil {
		c.Error(common.APIError{
			Status:  http.StatusBadRequest,
			Message: "request validation failed",
			Fields:  FormatValidationErrors(err),
		})
		return false
	}

	return true
}

func FormatValidationErrors(err error) map[string]any {
	fields := map[string]any{}
	for _, e := range err.(validator.ValidationErrors) {
		fields[e.Field()] = "failed " + e.Tag()
	}
	return fields
}
