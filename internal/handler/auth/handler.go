package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/auth"
	"github.com/jwalitptl/consult-api/pkg/httputil"
)

type CookieConfig struct {
	Name   string
	Secure bool
}

type Handler struct {
	svc          *auth.Service
	authMW       *middleware.AuthMiddleware
	loginLimiter gin.HandlerFunc
	cookie       CookieConfig
}

// NewHandler wires the auth routes. loginLimiter may be nil.
func NewHandler(svc *auth.Service, authMW *middleware.AuthMiddleware, loginLimiter gin.HandlerFunc, cookie CookieConfig) *Handler {
	return &Handler{svc: svc, authMW: authMW, loginLimiter: loginLimiter, cookie: cookie}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	login := []gin.HandlerFunc{h.Login}
	if h.loginLimiter != nil {
		login = append([]gin.HandlerFunc{h.loginLimiter}, login...)
	}

	r.POST("/register", h.Register)
	r.POST("/login", login...)
	r.POST("/logout", h.Logout)
	r.GET("/user", h.authMW.Authenticate(), h.CurrentUser)
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	user, err := h.svc.Register(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, user)
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	res, err := h.svc.Login(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.setCookie(c, res.Token, int(h.svc.TTL().Seconds()))
	httputil.RespondWithSuccess(c, res.User)
}

func (h *Handler) Logout(c *gin.Context) {
	token, _ := c.Cookie(h.cookie.Name)
	if err := h.svc.Logout(c.Request.Context(), token); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *Handler) CurrentUser(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}
	httputil.RespondWithSuccess(c, user)
}

func (h *Handler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, value, maxAge, "/", "", h.cookie.Secure, true)
}
