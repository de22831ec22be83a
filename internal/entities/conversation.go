package entities

import "time"

// Conversation is unique per (IntegrationID, PlatformConversationID).
// CustomerID is never changed after the first write.
type Conversation struct {
	ID                     string    `json:"id"`
	IntegrationID          string    `json:"integration_id"`
	PlatformConversationID string    `json:"platform_conversation_id"`
	CustomerID             string    `json:"customer_id"`
	RecipientID            string    `json:"recipient_id,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Thread is the platform-native conversation descriptor.
type Thread struct {
	ID          string
	RecipientID string
}
