package ops

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	remindsvc "github.com/jwalitptl/remind-api/internal/service/remind"
	"github.com/jwalitptl/remind-api/internal/worker"
	apperrors "github.com/jwalitptl/remind-api/pkg/errors"
)

// Handler exposes the operational surface: manual dispatch cycles and
// the subscription operations. Reminder CRUD lives in the web app,
// not here.
type Handler struct {
	reminds   remindsvc.Service
	processor *worker.Processor
}

func NewHandler(reminds remindsvc.Service, processor *worker.Processor) *Handler {
	registerValidations()
	return &Handler{reminds: reminds, processor: processor}
}

// recipient ids are openid-style strings, at most 40 chars like the
// platform's user table column.
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("uid", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s != "" && len(s) <= 40
		})
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/dispatch/cycle", h.RunCycle)

	reminders := r.Group("/reminders/:id")
	{
		reminders.POST("/participants", h.AddParticipant)
		reminders.DELETE("/participants/:uid", h.RemoveParticipant)
		reminders.GET("/subscription/:uid", h.IsSubscribed)
	}
}

func (h *Handler) RunCycle(c *gin.Context) {
	report, err := h.processor.RunCycle(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": report})
}

type addParticipantRequest struct {
	UID string `json:"uid" binding:"required,uid"`
}

func (h *Handler) AddParticipant(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid reminder id"})
		return
	}

	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if err := h.reminds.AddParticipant(c.Request.Context(), id, req.UID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid reminder id"})
		return
	}

	if err := h.reminds.RemoveParticipant(c.Request.Context(), id, c.Param("uid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) IsSubscribed(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid reminder id"})
		return
	}

	subscribed, err := h.reminds.IsSubscribed(c.Request.Context(), id, c.Param("uid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"subscribed": subscribed}})
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case apperrors.IsCode(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
	case apperrors.IsCode(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
	}
}
