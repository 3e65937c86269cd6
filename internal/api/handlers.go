package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"beacon/internal/api/middleware"
	"beacon/internal/blink"
	"beacon/internal/ewelink"
	"beacon/internal/idgen"

	"github.com/gin-gonic/gin"
)

// Dispatcher issues a single device state command.
type Dispatcher interface {
	SetState(ctx context.Context, deviceID string, state ewelink.SwitchState) error
}

// Sequencer runs the scripted alert blink sequence.
type Sequencer interface {
	Run(ctx context.Context, deviceID string) error
	Steps() int
}

// Exchanger exchanges an out-of-band authorization code for tokens.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURL string) (*ewelink.TokenSet, error)
}

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	dispatcher    Dispatcher
	sequencer     Sequencer
	exchanger     Exchanger
	tokens        ewelink.TokenStorage
	alertDeviceID string
	redirectURL   string
	logger        *slog.Logger
}

// GetHealth returns the health status of the service
// GET /health
func (h *Handlers) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "beacon",
	})
}

type triggerAlertRequest struct {
	DeviceID string `json:"device_id"`
}

// TriggerAlert runs the blink sequence against the alert device.
// POST /v1/alerts
func (h *Handlers) TriggerAlert(c *gin.Context) {
	var req triggerAlertRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
				"code":  "INVALID_BODY",
			})
			return
		}
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = h.alertDeviceID
	}

	alertID := idgen.NewAlert()
	h.logger.Info("Alert triggered",
		"alert_id", alertID,
		"device_id", deviceID,
		"request_id", c.GetString(middleware.RequestIDKey))

	if err := h.sequencer.Run(c.Request.Context(), deviceID); err != nil {
		var step *blink.StepError
		if errors.As(err, &step) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      err.Error(),
				"code":       "BLINK_ABORTED",
				"alert_id":   alertID,
				"step":       step.Step,
				"last_state": string(step.LastState),
			})
			return
		}
		h.writeCommandError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alert_id":  alertID,
		"device_id": deviceID,
		"steps":     h.sequencer.Steps(),
	})
}

type setStateRequest struct {
	State string `json:"state" binding:"required,oneof=on off"`
}

// SetDeviceState switches a single device on or off.
// POST /v1/devices/:id/state
func (h *Handlers) SetDeviceState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "state must be \"on\" or \"off\"",
			"code":  "INVALID_STATE",
		})
		return
	}

	deviceID := c.Param("id")
	if err := h.dispatcher.SetState(c.Request.Context(), deviceID, ewelink.SwitchState(req.State)); err != nil {
		h.writeCommandError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"state":     req.State,
	})
}

type submitCodeRequest struct {
	Code        string `json:"code" binding:"required"`
	RedirectURL string `json:"redirect_url"`
}

// SubmitAuthCode exchanges an authorization code obtained out-of-band.
// POST /v1/auth/code
func (h *Handlers) SubmitAuthCode(c *gin.Context) {
	var req submitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "code is required",
			"code":  "INVALID_BODY",
		})
		return
	}

	redirectURL := req.RedirectURL
	if redirectURL == "" {
		redirectURL = h.redirectURL
	}

	tokens, err := h.exchanger.ExchangeCode(c.Request.Context(), req.Code, redirectURL)
	if err != nil {
		// The caller needs to know whether to retry with this code or
		// go obtain a fresh one.
		if errors.Is(err, ewelink.ErrCodeExhausted) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": err.Error(),
				"code":  "CODE_EXHAUSTED",
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"code":  "EXCHANGE_FAILED",
		})
		return
	}

	resp := gin.H{
		"region":      string(tokens.Region),
		"obtained_at": tokens.ObtainedAt.Format(time.RFC3339),
	}
	if tokens.ExpiresAt != nil {
		resp["expires_at"] = tokens.ExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// GetAuthStatus reports whether a token set is present.
// GET /v1/auth/status
func (h *Handlers) GetAuthStatus(c *gin.Context) {
	tokens, err := h.tokens.GetTokens(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read credential store",
			"code":  "STORAGE_ERROR",
		})
		return
	}

	if tokens == nil || tokens.AccessToken == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	resp := gin.H{
		"authenticated": true,
		"region":        string(tokens.Region),
		"obtained_at":   tokens.ObtainedAt.Format(time.RFC3339),
	}
	if tokens.ExpiresAt != nil {
		resp["expires_at"] = tokens.ExpiresAt.Format(time.RFC3339)
		resp["expired"] = tokens.Expired(time.Now())
	}
	c.JSON(http.StatusOK, resp)
}

// writeCommandError maps dispatcher errors onto HTTP responses.
func (h *Handlers) writeCommandError(c *gin.Context, err error) {
	var dispatch *ewelink.DispatchError

	switch {
	case errors.Is(err, ewelink.ErrNotAuthenticated):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"code":  "NOT_AUTHENTICATED",
		})
	case errors.Is(err, ewelink.ErrRegionMismatch):
		c.JSON(http.StatusConflict, gin.H{
			"error": err.Error(),
			"code":  "REGION_MISMATCH",
		})
	case errors.As(err, &dispatch):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          err.Error(),
			"code":           "COMMAND_REJECTED",
			"provider_error": dispatch.Code,
			"provider_msg":   dispatch.Msg,
		})
	default:
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"code":  "COMMAND_FAILED",
		})
	}
}
