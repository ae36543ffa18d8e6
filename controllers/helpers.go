package controllers

import (
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/homefix/marketplace-api/middleware"
	"github.com/homefix/marketplace-api/models"
	"github.com/homefix/marketplace-api/utils"
)

// maxMultipartMemory bounds the in-memory part of a multipart form, larger
// parts spill to temporary files
const maxMultipartMemory = 32 << 20

// parseIDParam reads a positive numeric path parameter
func parseIDParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, utils.BadRequest("INVALID_ID", "Invalid "+name)
	}
	return uint(id), nil
}

// bind decodes the request body into req. Multipart forms are bound through
// their form fields so uploads and data can travel together.
func bind(c *gin.Context, req interface{}) error {
	var err error
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		err = c.ShouldBind(req)
	} else {
		err = c.ShouldBindJSON(req)
	}
	if err != nil {
		return utils.ValidationError(err)
	}
	return nil
}

// formFiles returns the files uploaded under field, or nil for non-multipart
// requests
func formFiles(c *gin.Context, field string) ([]*multipart.FileHeader, error) {
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, utils.WrapError(utils.KindBadRequest, "INVALID_FORM", "Invalid multipart form", err)
	}
	return form.File[field], nil
}

// currentUser returns the authenticated principal or responds 401
func currentUser(c *gin.Context) (*models.User, bool) {
	user, err := middleware.CurrentUser(c)
	if err != nil {
		utils.RespondError(c, utils.Unauthenticated("MISSING_TOKEN", "Authorization token is required"))
		return nil, false
	}
	return user, true
}
