package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	"chatrelay/internal/entities"
	"chatrelay/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler serves the webhook and operator endpoints.
type Handler struct {
	inbound     *usecases.InboundNormalizer
	replies     *usecases.ReplyDispatcher
	provisioner *usecases.Provisioner
	devices     DeviceSessions
	log         zerolog.Logger
}

// Deps are the collaborators of the HTTP layer. Devices may be nil when
// WhatsApp device sessions are disabled.
type Deps struct {
	Inbound      *usecases.InboundNormalizer
	Replies      *usecases.ReplyDispatcher
	Provisioner  *usecases.Provisioner
	Devices      DeviceSessions
	Middleware   *Middleware
	MaxBodyBytes int64
	Log          zerolog.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		inbound:     deps.Inbound,
		replies:     deps.Replies,
		provisioner: deps.Provisioner,
		devices:     deps.Devices,
		log:         deps.Log.With().Str("component", "http").Logger(),
	}
}

func SetupRoutes(r *gin.Engine, deps Deps) {
	h := NewHandler(deps)
	mw := deps.Middleware

	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(deps.MaxBodyBytes))

	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Webhooks are acknowledged with 200 whatever happens to the payload.
	r.POST("/smooch/webhook", mw.WebhookSecret(), h.SmoochWebhook)
	r.POST("/whatsapp/webhook", mw.WebhookSecret(), h.WhatsAppWebhook)

	operator := r.Group("/", mw.ServiceAuth(), mw.RateLimitPerCaller())
	{
		operator.POST("/smooch/create-integration", h.CreateIntegration("", usecases.TransportAggregator))
		operator.POST("/whatsapp/create-integration", h.CreateIntegration(entities.KindWhatsApp, usecases.TransportDirect))
		operator.POST("/whatsapp-web/create-integration", h.CreateIntegration(entities.KindWhatsAppWeb, usecases.TransportDevice))

		operator.POST("/smooch/reply", h.Reply)
		operator.POST("/whatsapp/reply", h.Reply)
		operator.POST("/whatsapp-web/reply", h.Reply)

		operator.POST("/integrations/rotate-credentials", h.RotateCredentials)

		operator.GET("/whatsapp-web/qr/:instanceId", h.DeviceQRCode)
		operator.GET("/whatsapp-web/status/:instanceId", h.DeviceStatus)
		operator.POST("/whatsapp-web/logout/:instanceId", h.DeviceLogout)
	}
}

func (h *Handler) SmoochWebhook(c *gin.Context) {
	var payload smoochWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn().Err(err).Msg("malformed smooch webhook")
		c.String(http.StatusOK, "success")
		return
	}
	res := h.inbound.Process(c.Request.Context(), payload.toBatch())
	h.logResult("smooch", res)
	c.String(http.StatusOK, "success")
}

func (h *Handler) WhatsAppWebhook(c *gin.Context) {
	var payload chatAPIWebhook
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn().Err(err).Msg("malformed whatsapp webhook")
		c.String(http.StatusOK, "success")
		return
	}
	for _, batch := range payload.toBatches() {
		res := h.inbound.Process(c.Request.Context(), batch)
		h.logResult("whatsapp", res)
	}
	c.String(http.StatusOK, "success")
}

func (h *Handler) logResult(source string, res usecases.InboundResult) {
	if res.State != usecases.StateFailedNonFatal {
		return
	}
	h.log.Error().
		Str("source", source).
		Str("integration_id", res.IntegrationID).
		Str("conversation_id", res.ConversationID).
		Errs("failures", res.Failures).
		Msg("inbound webhook not fully processed")
}

type createIntegrationBody struct {
	Kind          string          `json:"kind"`
	IntegrationID string          `json:"integrationId"`
	Data          json.RawMessage `json:"data"`
}

// CreateIntegration provisions an integration. A non-empty kind pins the route
// to that kind regardless of the body.
func (h *Handler) CreateIntegration(kind string, transport usecases.Transport) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body createIntegrationBody
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid request body"))
			return
		}
		if kind != "" {
			body.Kind = kind
		}
		if !ValidID(body.IntegrationID) {
			writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid integrationId"))
			return
		}

		_, err := h.provisioner.CreateIntegration(c.Request.Context(), usecases.CreateIntegrationRequest{
			Kind:          body.Kind,
			IntegrationID: body.IntegrationID,
			Data:          rawData(body.Data),
			Transports:    []usecases.Transport{transport},
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type rotateCredentialsBody struct {
	IntegrationID string          `json:"integrationId"`
	Data          json.RawMessage `json:"data"`
}

func (h *Handler) RotateCredentials(c *gin.Context) {
	var body rotateCredentialsBody
	if err := c.ShouldBindJSON(&body); err != nil || !ValidID(body.IntegrationID) {
		writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid request body"))
		return
	}
	if err := h.provisioner.RotateCredentials(c.Request.Context(), body.IntegrationID, rawData(body.Data)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type replyBody struct {
	IntegrationID  string `json:"integrationId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Attachments    []struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"attachments"`
}

func (h *Handler) Reply(c *gin.Context) {
	var body replyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "invalid request body"))
		return
	}

	content := SanitizeString(body.Content)
	if len(content) > MaxContentLength {
		writeError(c, entities.NewValidationError(entities.CodeInvalidPayload, "content exceeds %d bytes", MaxContentLength))
		return
	}

	req := usecases.ReplyRequest{
		IntegrationID:  body.IntegrationID,
		ConversationID: body.ConversationID,
		Content:        content,
	}
	for _, a := range body.Attachments {
		req.Attachments = append(req.Attachments, entities.Attachment{Type: a.Type, URL: a.URL})
	}

	messageID, err := h.replies.Reply(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "messageId": messageID})
}

// rawData accepts data either as a JSON-encoded string or as an inline object.
func rawData(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
