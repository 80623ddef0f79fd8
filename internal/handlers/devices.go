package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pushbeam/pushbeam/internal/middleware"
	"github.com/pushbeam/pushbeam/internal/models"
	"github.com/pushbeam/pushbeam/internal/services"
	appErrors "github.com/pushbeam/pushbeam/pkg/errors"
	"github.com/pushbeam/pushbeam/pkg/response"
)

// heartbeatMissedLimit caps how many missed notifications a heartbeat returns.
const heartbeatMissedLimit = 20

// DeviceHandler exposes the device registry over HTTP.
type DeviceHandler struct {
	devices        *services.DeviceService
	reconciliation *services.ReconciliationService
}

// NewDeviceHandler constructs a DeviceHandler.
func NewDeviceHandler(devices *services.DeviceService, reconciliation *services.ReconciliationService) *DeviceHandler {
	return &DeviceHandler{devices: devices, reconciliation: reconciliation}
}

type registerDeviceRequest struct {
	Token      string `json:"device_token" validate:"required,max=512"`
	Platform   string `json:"platform" validate:"required,oneof=ios android web"`
	AppVersion string `json:"app_version" validate:"omitempty,max=64"`
}

// Register creates or refreshes the caller's device registration.
func (h *DeviceHandler) Register(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req registerDeviceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	device, created, err := h.devices.Register(c.Request.Context(), services.RegisterDeviceInput{
		Recipient:  recipient,
		Token:      req.Token,
		Platform:   models.Platform(req.Platform),
		AppVersion: req.AppVersion,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, device)
}

// List returns the caller's active devices.
func (h *DeviceHandler) List(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	devices, err := h.devices.ListForRecipient(c.Request.Context(), recipient)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, devices, &response.Meta{Count: len(devices)})
}

// Unregister deactivates one of the caller's devices.
func (h *DeviceHandler) Unregister(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.devices.Unregister(c.Request.Context(), c.Param("token"), recipient); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unregistered": true})
}

// Heartbeat records that a device is back online and returns what it missed.
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	recipient, ok := middleware.RecipientFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	missed, err := h.reconciliation.TouchDevice(c.Request.Context(), c.Param("token"), recipient, heartbeatMissedLimit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, missed, &response.Meta{Count: len(missed)})
}
