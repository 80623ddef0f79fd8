package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pushbeam/pushbeam/internal/middleware"
	"github.com/pushbeam/pushbeam/internal/models"
	"github.com/pushbeam/pushbeam/internal/services"
	appErrors "github.com/pushbeam/pushbeam/pkg/errors"
	"github.com/pushbeam/pushbeam/pkg/response"
)

// NotificationHandler exposes dispatch and reconciliation over HTTP.
type NotificationHandler struct {
	dispatch       *services.DispatchService
	reconciliation *services.ReconciliationService
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(dispatch *services.DispatchService, reconciliation *services.ReconciliationService) *NotificationHandler {
	return &NotificationHandler{dispatch: dispatch, reconciliation: reconciliation}
}

type dispatchRequest struct {
	Recipients    []string       `json:"recipients" validate:"required,min=1,dive,required"`
	Title         string         `json:"title" validate:"required,max=255"`
	Body          string         `json:"body" validate:"required"`
	Data          map[string]any `json:"data"`
	Priority      string         `json:"priority" validate:"omitempty,oneof=normal high"`
	TTLSeconds    *int64         `json:"ttl" validate:"omitempty,gte=0"`
	CorrelationID string         `json:"correlation_id" validate:"omitempty,max=64"`
}

// Dispatch fans a notification out to every active device of the requested
// recipients and reports the per-device outcomes.
func (h *NotificationHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.dispatch.Dispatch(c.Request.Context(), services.DispatchInput{
		Recipients:    req.Recipients,
		Title:         req.Title,
		Body:          req.Body,
		Data:          req.Data,
		Priority:      models.Priority(req.Priority),
		TTLSeconds:    req.TTLSeconds,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Missed returns the caller's unacknowledged notifications. When a
// device_token is supplied the call doubles as a heartbeat for that device.
func (h *NotificationHandler) Missed(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := parseIntQuery(c, "limit", 0)

	var (
		missed []services.MissedNotification
		err    error
	)
	if token := c.Query("device_token"); token != "" {
		missed, err = h.reconciliation.TouchDevice(c.Request.Context(), token, recipient, limit)
	} else {
		missed, err = h.reconciliation.GetMissed(c.Request.Context(), recipient, limit)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, missed, &response.Meta{Count: len(missed)})
}

// Acknowledge marks one notification as displayed by the caller's device.
func (h *NotificationHandler) Acknowledge(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("notification id must be an integer"))
		return
	}

	acknowledged, err := h.reconciliation.Acknowledge(c.Request.Context(), uint(id), recipient)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !acknowledged {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"acknowledged": true})
}

type acknowledgeAllRequest struct {
	IDs []uint `json:"ids"`
}

// AcknowledgeAll marks a batch of the caller's notifications as displayed.
// Without explicit ids every unacknowledged notification is covered.
func (h *NotificationHandler) AcknowledgeAll(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := acknowledgeAllRequest{}
	if c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &req) {
			return
		}
	}

	count, err := h.reconciliation.AcknowledgeAll(c.Request.Context(), recipient, req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"acknowledged": count})
}
