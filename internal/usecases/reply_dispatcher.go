package usecases

import (
	"context"
	"errors"
	"strings"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReplyRequest is an operator reply coming from the main API.
type ReplyRequest struct {
	IntegrationID  string
	ConversationID string
	Content        string
	Attachments    []entities.Attachment
}

// ReplyDispatcher sends operator replies through the conversation's platform.
type ReplyDispatcher struct {
	registry     *Registry
	integrations interfaces.IntegrationStore
	messages     *MessageRecorder
	log          zerolog.Logger
}

func NewReplyDispatcher(registry *Registry, integrations interfaces.IntegrationStore, messages *MessageRecorder, log zerolog.Logger) *ReplyDispatcher {
	return &ReplyDispatcher{
		registry:     registry,
		integrations: integrations,
		messages:     messages,
		log:          log.With().Str("component", "reply").Logger(),
	}
}

// Reply delivers req and records the outbound message under the platform's
// message id. It returns the canonical id of the recorded message.
func (d *ReplyDispatcher) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	if len(req.Attachments) > 1 {
		return "", entities.ErrTooManyAttachments
	}
	if len(req.Attachments) == 1 && strings.TrimSpace(req.Attachments[0].URL) == "" {
		return "", entities.NewValidationError(entities.CodeInvalidPayload, "attachment url is required")
	}
	if req.IntegrationID == "" || req.ConversationID == "" {
		return "", entities.NewValidationError(entities.CodeInvalidPayload, "integrationId and conversationId are required")
	}

	integration, err := d.integrations.FindByErxesAPIID(ctx, req.IntegrationID)
	if err != nil {
		return "", entities.NewPersistenceError(err, "find integration")
	}
	if integration == nil {
		return "", entities.NewNotFoundError("integration %s not found", req.IntegrationID)
	}

	platform, err := d.registry.Lookup(integration.Kind)
	if err != nil {
		return "", err
	}
	if platform.Sender == nil {
		return "", entities.ErrNotConfigured
	}

	conv, err := platform.Models.Conversations.FindByID(ctx, req.ConversationID)
	if err != nil {
		return "", entities.NewPersistenceError(err, "find conversation")
	}
	if conv == nil || conv.IntegrationID != integration.ID {
		return "", entities.NewNotFoundError("conversation %s not found", req.ConversationID)
	}

	customer, err := platform.Models.Customers.FindByID(ctx, conv.CustomerID)
	if err != nil {
		return "", entities.NewPersistenceError(err, "find customer")
	}
	if customer == nil {
		return "", entities.NewNotFoundError("customer %s not found", conv.CustomerID)
	}

	send := interfaces.SendRequest{
		Integration:  integration,
		Conversation: conv,
		Customer:     customer,
		Content:      req.Content,
	}
	var platformMessageID string
	if len(req.Attachments) == 1 {
		att := req.Attachments[0]
		send.Attachment = &att
		platformMessageID, err = platform.Sender.SendFile(ctx, send)
	} else {
		platformMessageID, err = platform.Sender.SendText(ctx, send)
	}
	if err != nil {
		d.log.Error().Err(err).
			Str("integration_id", integration.ID).
			Str("conversation_id", conv.ID).
			Str("kind", platform.Kind).
			Msg("send reply")
		var typed *entities.Error
		if errors.As(err, &typed) {
			return "", err
		}
		return "", entities.NewUpstreamError(err, "send reply via %s", platform.Kind)
	}
	if platformMessageID == "" {
		platformMessageID = uuid.NewString()
		d.log.Warn().Str("conversation_id", conv.ID).Msg("platform returned no message id")
	}

	msg, _, err := d.messages.RecordMessage(ctx, platform.Models.Messages, RecordInput{
		ConversationID:    conv.ID,
		PlatformMessageID: platformMessageID,
		Content:           req.Content,
		Attachment:        send.Attachment,
		Direction:         entities.DirectionOutbound,
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}
