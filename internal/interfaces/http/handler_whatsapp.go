package http

import (
	"context"
	"net/http"

	"chatrelay/internal/entities"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

// DeviceSessions exposes pairing state of WhatsApp device sessions.
type DeviceSessions interface {
	QRCode(instanceID string) string
	Status(instanceID string) (status, phone string)
	Logout(ctx context.Context, instanceID string) error
}

// DeviceQRCode returns the current pairing QR code as PNG
func (h *Handler) DeviceQRCode(c *gin.Context) {
	if h.devices == nil {
		writeError(c, entities.ErrNotConfigured)
		return
	}
	instanceID := c.Param("instanceId")
	if !ValidID(instanceID) {
		writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid instance id"))
		return
	}

	code := h.devices.QRCode(instanceID)
	if code == "" {
		status, _ := h.devices.Status(instanceID)
		c.JSON(http.StatusAccepted, gin.H{"instanceId": instanceID, "status": status})
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		h.log.Error().Err(err).Str("instance_id", instanceID).Msg("encode qr code")
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// DeviceStatus returns the connection status of a device session
func (h *Handler) DeviceStatus(c *gin.Context) {
	if h.devices == nil {
		writeError(c, entities.ErrNotConfigured)
		return
	}
	instanceID := c.Param("instanceId")
	if !ValidID(instanceID) {
		writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid instance id"))
		return
	}
	status, phone := h.devices.Status(instanceID)
	c.JSON(http.StatusOK, gin.H{"instanceId": instanceID, "status": status, "phone": phone})
}

// DeviceLogout unpairs a device session so it can be paired with another phone.
func (h *Handler) DeviceLogout(c *gin.Context) {
	if h.devices == nil {
		writeError(c, entities.ErrNotConfigured)
		return
	}
	instanceID := c.Param("instanceId")
	if !ValidID(instanceID) {
		writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid instance id"))
		return
	}
	if err := h.devices.Logout(c.Request.Context(), instanceID); err != nil {
		h.log.Error().Err(err).Str("instance_id", instanceID).Msg("device logout")
		writeError(c, entities.NewUpstreamError(err, "logout device %s", instanceID))
		return
	}
	h.log.Info().Str("instance_id", instanceID).Msg("device logged out")
	c.JSON(http.StatusOK, gin.H{"instanceId": instanceID, "status": "logged_out"})
}
