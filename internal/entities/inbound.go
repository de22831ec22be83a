package entities

import "encoding/json"

// TriggerNewUserMessage is the only webhook trigger that runs the inbound pipeline.
const TriggerNewUserMessage = "message:appUser"

// ClientProfile identifies the originating platform and carries its raw profile
// payload, used only for avatar hints.
type ClientProfile struct {
	Platform    string
	DisplayName string
	Raw         json.RawMessage
}

// IntegrationRef is how a webhook points at its Integration: aggregator payloads
// carry the aggregator's integration id, direct providers carry an instance id.
type IntegrationRef struct {
	AggregatorID string
	Kind         string
	InstanceID   string
}

// InboundEvent is one platform-native message event.
type InboundEvent struct {
	PlatformMessageID string
	Text              string
	Type              string
	MediaType         string
	MediaURL          string
	Received          float64
}

// Attachment returns the attachment descriptor for non-text events.
func (e InboundEvent) Attachment() *Attachment {
	switch e.Type {
	case "", "text", "chat":
		return nil
	}
	return &Attachment{Type: e.MediaType, URL: e.MediaURL}
}

// InboundBatch is a webhook call normalized to the platform-independent shape.
type InboundBatch struct {
	Trigger     string
	Integration IntegrationRef
	User        PlatformUser
	Client      ClientProfile
	Thread      Thread
	Events      []InboundEvent
}
