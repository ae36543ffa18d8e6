package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RespondError writes the error envelope for err and aborts the request.
// The error is also attached to the context so the request logger sees the
// underlying cause.
func RespondError(c *gin.Context, err error) {
	appErr := AsAppError(err)
	_ = c.Error(err)

	body := gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	}
	if appErr.Details != "" {
		body["details"] = appErr.Details
	}

	c.AbortWithStatusJSON(appErr.Kind.HTTPStatus(), gin.H{
		"success": false,
		"error":   body,
	})
}

// RespondData writes the success envelope
func RespondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// RespondOK writes data with 200 OK
func RespondOK(c *gin.Context, data interface{}) {
	RespondData(c, http.StatusOK, data)
}
