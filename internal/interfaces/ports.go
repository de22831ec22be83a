package interfaces

import (
	"context"

	"chatrelay/internal/entities"
)

// Store lookups return (nil, nil) when the record does not exist.

type IntegrationStore interface {
	Create(ctx context.Context, integration *entities.Integration) error
	Delete(ctx context.Context, id string) error
	FindByErxesAPIID(ctx context.Context, erxesAPIID string) (*entities.Integration, error)
	FindByAggregatorID(ctx context.Context, aggregatorID string) (*entities.Integration, error)
	FindByInstanceID(ctx context.Context, kind, instanceID string) (*entities.Integration, error)
	SetAggregatorID(ctx context.Context, id, aggregatorID string) error
	UpdateCredentials(ctx context.Context, id string, creds entities.Credentials) error
}

// CustomerStore persists Customers of one integration kind.
// CreateIfAbsent inserts c unless a row with the same (IntegrationID, PlatformUserID)
// exists; in that case c is overwritten with the stored row and created is false.
type CustomerStore interface {
	FindByPlatformUser(ctx context.Context, integrationID, platformUserID string) (*entities.Customer, error)
	FindByID(ctx context.Context, id string) (*entities.Customer, error)
	CreateIfAbsent(ctx context.Context, c *entities.Customer) (created bool, err error)
}

type ConversationStore interface {
	FindByPlatformConversation(ctx context.Context, integrationID, platformConversationID string) (*entities.Conversation, error)
	FindByID(ctx context.Context, id string) (*entities.Conversation, error)
	CreateIfAbsent(ctx context.Context, c *entities.Conversation) (created bool, err error)
}

type MessageStore interface {
	FindByPlatformMessage(ctx context.Context, conversationID, platformMessageID string) (*entities.Message, error)
	CreateIfAbsent(ctx context.Context, m *entities.Message) (created bool, err error)
	ListByConversation(ctx context.Context, conversationID string) ([]entities.Message, error)
}

// AvatarResolver exchanges a provider file id for a fetchable URL.
type AvatarResolver interface {
	ResolveFileURL(ctx context.Context, botToken, fileID string) (string, error)
}

// SendRequest is everything a platform send adapter needs to deliver one reply.
type SendRequest struct {
	Integration  *entities.Integration
	Conversation *entities.Conversation
	Customer     *entities.Customer
	Content      string
	Attachment   *entities.Attachment
}

// Sender delivers replies to a platform and returns the platform's message id.
type Sender interface {
	SendText(ctx context.Context, req SendRequest) (string, error)
	SendFile(ctx context.Context, req SendRequest) (string, error)
}

// TokenCache holds clients built from platform credentials. Forget drops the
// client of a token that is no longer valid.
type TokenCache interface {
	Forget(token string)
}

// AggregatorClient creates integrations on the multi-channel aggregator.
type AggregatorClient interface {
	CreateIntegration(ctx context.Context, props map[string]any) (string, error)
}

// DeviceConnector pairs and releases locally hosted WhatsApp device sessions.
type DeviceConnector interface {
	Connect(ctx context.Context, instanceID string) error
	Disconnect(instanceID string)
}

// EventPublisher notifies the main API about newly persisted records.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data any) error
	Close() error
}
