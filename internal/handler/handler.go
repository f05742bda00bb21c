// Package handler holds what the per-resource HTTP handlers share.
package handler

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-api/pkg/errors"
)

// Handler is implemented by every resource handler
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// BindJSON decodes the request body into dst. Bodies cut off by the size
// limit become 413, anything else that fails to decode 400.
func BindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return errors.PayloadTooLarge(fmt.Sprintf("Request body exceeds %d MB", maxErr.Limit>>20), err)
		}
		return errors.NewBadRequest("Invalid request body", err)
	}
	return nil
}

// ParseID reads a uuid path parameter
func ParseID(c *gin.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, errors.NewBadRequest(fmt.Sprintf("invalid %s", param), err)
	}
	return id, nil
}
