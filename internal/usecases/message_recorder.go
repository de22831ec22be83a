package usecases

import (
	"context"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/rs/zerolog"
)

// Event types published to the main API.
const (
	EventConversationCreated = "conversation.created"
	EventMessageCreated      = "conversation.message.created"
)

// RecordInput describes one message to persist.
type RecordInput struct {
	ConversationID    string
	CustomerID        string
	PlatformMessageID string
	Content           string
	Attachment        *entities.Attachment
	Direction         entities.Direction
}

// MessageRecorder persists messages idempotently per (conversation, platform message id)
// and notifies the main API only about messages it actually created.
type MessageRecorder struct {
	publisher interfaces.EventPublisher
	log       zerolog.Logger
}

func NewMessageRecorder(publisher interfaces.EventPublisher, log zerolog.Logger) *MessageRecorder {
	return &MessageRecorder{publisher: publisher, log: log.With().Str("component", "message_recorder").Logger()}
}

func (r *MessageRecorder) RecordMessage(ctx context.Context, store interfaces.MessageStore, in RecordInput) (*entities.Message, bool, error) {
	if in.ConversationID == "" {
		return nil, false, entities.NewValidationError(entities.CodeInvalidPayload, "conversation id is required")
	}
	if in.PlatformMessageID == "" {
		return nil, false, entities.NewValidationError(entities.CodeInvalidPayload, "platform message id is required")
	}

	existing, err := store.FindByPlatformMessage(ctx, in.ConversationID, in.PlatformMessageID)
	if err != nil {
		return nil, false, entities.NewPersistenceError(err, "find message")
	}
	if existing != nil {
		return existing, false, nil
	}

	msg := &entities.Message{
		ConversationID:    in.ConversationID,
		CustomerID:        in.CustomerID,
		PlatformMessageID: in.PlatformMessageID,
		Content:           in.Content,
		Attachment:        in.Attachment,
		Direction:         in.Direction,
	}
	created, err := store.CreateIfAbsent(ctx, msg)
	if err != nil {
		return nil, false, entities.NewPersistenceError(err, "create message")
	}
	if created {
		r.notify(ctx, EventMessageCreated, msg)
	}
	return msg, created, nil
}

// notify logs publish failures; the record is already durable and the main
// API can resync from the store.
func (r *MessageRecorder) notify(ctx context.Context, eventType string, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, eventType, data); err != nil {
		r.log.Error().Err(err).Str("event", eventType).Msg("publish event")
	}
}
