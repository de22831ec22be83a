package entities

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Attachment is the single media item a Message may carry.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type Message struct {
	ID                string      `json:"id"`
	ConversationID    string      `json:"conversation_id"`
	CustomerID        string      `json:"customer_id,omitempty"`
	PlatformMessageID string      `json:"platform_message_id"`
	Content           string      `json:"content"`
	Attachment        *Attachment `json:"attachment,omitempty"`
	Direction         Direction   `json:"direction"`
	CreatedAt         time.Time   `json:"created_at"`
}
