package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/auth"
	"github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/httputil"
)

const (
	ContextUser    = "user"
	ContextUserID  = "user_id"
	ContextSession = "session"
)

type AuthMiddleware struct {
	authService *auth.Service
	cookieName  string
}

func NewAuthMiddleware(authService *auth.Service, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		cookieName:  cookieName,
	}
}

// Authenticate resolves the session cookie and stores the user in the context.
// Any failure answers 401 without redirecting.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(m.cookieName)
		if err != nil || token == "" {
			httputil.RespondWithError(c, errors.Unauthorized(""))
			return
		}

		user, session, err := m.authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextUserID, user.ID.String())
		c.Set(ContextSession, session)
		c.Next()
	}
}

// CurrentUser returns the user stored by Authenticate
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// MustUser aborts with 401 when no user is present
func MustUser(c *gin.Context) *model.User {
	user, ok := CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.ErrorBody{
			Message:   "Unauthorized",
			RequestID: c.GetString(ContextRequestID),
		})
		return nil
	}
	return user
}
