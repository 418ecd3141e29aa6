package broadcasts

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-live/backend/internal/lives"
	"github.com/campus-live/backend/internal/middleware"
	"github.com/campus-live/backend/internal/models"
	"github.com/campus-live/backend/internal/notify"
	"github.com/campus-live/backend/internal/provider"
	"github.com/campus-live/backend/pkg/response"
)

// Handler handles live HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a lives handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the live routes on an authenticated group.
func (h *Handler) Register(api *gin.RouterGroup) {
	manage := middleware.RequireRole(models.RoleAdmin, models.RoleInstructor)
	api.POST("/lives", manage, h.Create)
	api.GET("/lives/:id", h.Get)
	api.GET("/lives/:id/recordings", h.Recordings)
	api.POST("/lives/:id/start", manage, h.Start)
	api.POST("/lives/:id/stop", manage, h.Stop)
	api.POST("/lives/:id/recording/start", manage, h.StartRecording)
	api.POST("/lives/:id/recording/stop", manage, h.StopRecording)
	api.POST("/lives/:id/harvest", manage, h.Harvest)
	api.POST("/lives/:id/convert", manage, h.Convert)
	api.DELETE("/lives/:id", middleware.RequireRole(models.RoleAdmin), h.Delete)
}

// Create handles POST /lives.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Abort(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	live, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create", uuid.Nil, err, live != nil)
		return
	}
	response.JSON(c, http.StatusCreated, view(c, live))
}

// Get handles GET /lives/:id.
func (h *Handler) Get(c *gin.Context) {
	h.run(c, "get", h.svc.Get)
}

// Start handles POST /lives/:id/start.
func (h *Handler) Start(c *gin.Context) {
	h.run(c, "start", h.svc.Start)
}

// Stop handles POST /lives/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	h.run(c, "stop", h.svc.Stop)
}

// StartRecording handles POST /lives/:id/recording/start.
func (h *Handler) StartRecording(c *gin.Context) {
	h.run(c, "start recording", h.svc.StartRecording)
}

// StopRecording handles POST /lives/:id/recording/stop.
func (h *Handler) StopRecording(c *gin.Context) {
	h.run(c, "stop recording", h.svc.StopRecording)
}

// Harvest handles POST /lives/:id/harvest. The harvest runs on the worker.
func (h *Handler) Harvest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	live, err := h.svc.Harvest(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "harvest", id, err, live != nil)
		return
	}
	response.JSON(c, http.StatusAccepted, view(c, live))
}

// Convert handles POST /lives/:id/convert.
func (h *Handler) Convert(c *gin.Context) {
	h.run(c, "convert", h.svc.Convert)
}

// Delete handles DELETE /lives/:id.
func (h *Handler) Delete(c *gin.Context) {
	h.run(c, "delete", h.svc.Delete)
}

// Recordings handles GET /lives/:id/recordings and returns signed playback URLs.
func (h *Handler) Recordings(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	list, err := h.svc.Recordings(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list recordings", id, err, false)
		return
	}
	response.OK(c, list)
}

func (h *Handler) run(c *gin.Context, op string, fn func(ctx context.Context, id uuid.UUID) (*models.LiveResource, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	live, err := fn(c.Request.Context(), id)
	if err != nil {
		h.fail(c, op, id, err, live != nil)
		return
	}
	response.OK(c, view(c, live))
}

// fail maps service errors to responses. applied is true when the state
// change was stored but the provider call that followed it failed.
func (h *Handler) fail(c *gin.Context, op string, id uuid.UUID, err error, applied bool) {
	var pe *models.PreconditionError
	switch {
	case errors.As(err, &pe):
		response.Abort(c, http.StatusBadRequest, pe.Reason)
	case errors.Is(err, lives.ErrNotFound):
		response.Abort(c, http.StatusNotFound, "live not found")
	case applied:
		h.logger.Error(op+" provider call failed", zap.String("video_id", id.String()), zap.Stringer("user_id", middleware.UserID(c)), zap.Error(err))
		response.Abort(c, http.StatusBadGateway, "provider request failed")
	default:
		h.logger.Error(op+" failed", zap.String("video_id", id.String()), zap.Stringer("user_id", middleware.UserID(c)), zap.Error(err))
		response.Abort(c, http.StatusInternalServerError, "failed to "+op+" live")
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Abort(c, http.StatusBadRequest, "invalid live id")
		return uuid.Nil, false
	}
	return id, true
}

// view picks the projection matching the caller role.
func view(c *gin.Context, live *models.LiveResource) any {
	if middleware.Role(c).CanManage() {
		return notify.ViewFor(live, notify.AudienceAdmin)
	}
	return notify.ViewFor(live, notify.AudienceParticipant)
}

// WebhookHandler receives harvest job notifications from the packager.
type WebhookHandler struct {
	svc    *Service
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(svc *Service, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{svc: svc, logger: logger}
}

// HarvestJobPayload accepts either a flat body or the packager's event
// envelope ({"detail": {"harvest_job": {...}}}).
type HarvestJobPayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Detail struct {
		HarvestJob struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"harvest_job"`
	} `json:"detail"`
}

func (p HarvestJobPayload) job() (string, provider.HarvestJobStatus) {
	id, status := p.JobID, p.Status
	if id == "" {
		id, status = p.Detail.HarvestJob.ID, p.Detail.HarvestJob.Status
	}
	return id, provider.HarvestJobStatus(strings.ToLower(status))
}

// HarvestJob handles POST /webhooks/harvest-job. Completions are queued for
// the worker.
func (h *WebhookHandler) HarvestJob(c *gin.Context) {
	var body HarvestJobPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Abort(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	jobID, status := body.job()
	if jobID == "" {
		response.Abort(c, http.StatusBadRequest, "job id required")
		return
	}
	if err := h.svc.HarvestJobEvent(c.Request.Context(), jobID, status); err != nil {
		var pe *models.PreconditionError
		if errors.As(err, &pe) {
			response.Abort(c, http.StatusBadRequest, pe.Reason)
			return
		}
		h.logger.Error("enqueue harvest completion failed", zap.String("job_id", jobID), zap.Error(err))
		response.Abort(c, http.StatusInternalServerError, "failed to enqueue completion")
		return
	}
	h.logger.Info("harvest job webhook processed", zap.String("job_id", jobID), zap.String("status", string(status)))
	response.JSON(c, http.StatusAccepted, gin.H{"job_id": jobID, "status": status})
}
