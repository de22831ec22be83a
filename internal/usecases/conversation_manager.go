package usecases

import (
	"context"

	"chatrelay/internal/entities"

	"github.com/rs/zerolog"
)

// ConversationManager finds or creates the Conversation for a platform thread.
type ConversationManager struct {
	log zerolog.Logger
}

func NewConversationManager(log zerolog.Logger) *ConversationManager {
	return &ConversationManager{log: log.With().Str("component", "conversation_manager").Logger()}
}

// ResolveConversation returns the conversation for (integration, thread),
// creating it for customerID if none exists. The customer of an existing
// conversation is never changed, even when a different customer writes to it.
func (m *ConversationManager) ResolveConversation(ctx context.Context, platform *Platform, integrationID string, thread entities.Thread, customerID string) (*entities.Conversation, bool, error) {
	if thread.ID == "" {
		return nil, false, entities.NewValidationError(entities.CodeInvalidPayload, "conversation id is required")
	}
	store := platform.Models.Conversations

	existing, err := store.FindByPlatformConversation(ctx, integrationID, thread.ID)
	if err != nil {
		return nil, false, entities.NewPersistenceError(err, "find conversation")
	}
	if existing != nil {
		m.logPinned(existing, customerID)
		return existing, false, nil
	}

	conv := &entities.Conversation{
		IntegrationID:          integrationID,
		PlatformConversationID: thread.ID,
		CustomerID:             customerID,
		RecipientID:            thread.RecipientID,
	}
	created, err := store.CreateIfAbsent(ctx, conv)
	if err != nil {
		return nil, false, entities.NewPersistenceError(err, "create conversation")
	}
	if !created {
		m.logPinned(conv, customerID)
		return conv, false, nil
	}
	m.log.Info().
		Str("integration_id", integrationID).
		Str("conversation_id", conv.ID).
		Str("customer_id", customerID).
		Msg("conversation created")
	return conv, true, nil
}

func (m *ConversationManager) logPinned(conv *entities.Conversation, customerID string) {
	if conv.CustomerID != customerID {
		m.log.Debug().
			Str("conversation_id", conv.ID).
			Str("pinned_customer_id", conv.CustomerID).
			Str("sender_customer_id", customerID).
			Msg("message from another participant; keeping conversation customer")
	}
}
