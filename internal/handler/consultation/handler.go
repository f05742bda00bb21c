package consultation

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/middleware"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/pkg/httputil"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	service *consultation.Service
}

func NewHandler(service *consultation.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	consultations := r.Group("/consultations")
	{
		consultations.POST("", h.CreateConsultation)
		consultations.GET("", h.ListConsultations)
		consultations.GET("/stats", h.Stats)
		consultations.GET("/export", h.Export)
		consultations.GET("/:id", h.GetConsultation)
		consultations.PATCH("/:id", h.AttachAudio)
	}
}

func (h *Handler) CreateConsultation(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}

	var req model.CreateConsultationRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), user.ID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, created)
}

func (h *Handler) ListConsultations(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}

	list, err := h.service.List(c.Request.Context(), user.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, list)
}

func (h *Handler) GetConsultation(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	got, err := h.service.Get(c.Request.Context(), user.ID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, got)
}

// AttachAudio blocks until the transcription webhook has answered
func (h *Handler) AttachAudio(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	var req model.AttachAudioRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	updated, err := h.service.AttachAudio(c.Request.Context(), user.ID, id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) Stats(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), user.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}

func (h *Handler) Export(c *gin.Context) {
	user := middleware.MustUser(c)
	if user == nil {
		return
	}

	data, err := h.service.Export(c.Request.Context(), user.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	filename := fmt.Sprintf("consultations-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
