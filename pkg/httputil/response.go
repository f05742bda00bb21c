package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/consult-api/pkg/errors"
)

// ErrorBody is the JSON body of every failed request
type ErrorBody struct {
	Message   string              `json:"message"`
	Errors    []errors.FieldError `json:"errors,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
}

// RespondWithSuccess sends data with 200
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondWithCreated sends data with 201
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// RespondWithError maps err to a status and a client-safe message.
// Internal and upstream failures are logged with their cause and answered generically.
func RespondWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	body := ErrorBody{
		Message:   "Internal server error",
		RequestID: c.GetString("request_id"),
	}

	appErr, ok := errors.As(err)
	switch {
	case !ok:
		log.Error().
			Err(err).
			Str("request_id", body.RequestID).
			Str("path", c.Request.URL.Path).
			Msg("Unhandled error")
	case appErr.Code == errors.ErrInternal:
		log.Error().
			Err(appErr.Err).
			Str("request_id", body.RequestID).
			Str("path", c.Request.URL.Path).
			Msg("Internal error")
	case appErr.Code == errors.ErrUpstream:
		statusCode = appErr.StatusCode()
		body.Message = appErr.Message
		log.Warn().
			Err(appErr.Err).
			Str("request_id", body.RequestID).
			Str("path", c.Request.URL.Path).
			Msg("Upstream dependency failed")
	default:
		statusCode = appErr.StatusCode()
		body.Message = appErr.Message
		body.Errors = appErr.Fields
	}

	c.AbortWithStatusJSON(statusCode, body)
}
