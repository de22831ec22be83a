package entities

import "time"

// Integration kinds.
const (
	KindTelegram    = "telegram"
	KindViber       = "viber"
	KindLine        = "line"
	KindTwilio      = "twilio"
	KindWhatsApp    = "whatsapp"
	KindWhatsAppWeb = "whatsapp-web"
)

// Credentials holds the per-kind fields needed to call a platform's API.
// Only the fields of the integration's kind are set.
type Credentials struct {
	TelegramBotToken string `json:"telegram_bot_token,omitempty"`
	ViberBotToken    string `json:"viber_bot_token,omitempty"`

	LineChannelID     string `json:"line_channel_id,omitempty"`
	LineChannelSecret string `json:"line_channel_secret,omitempty"`

	TwilioSID       string `json:"twilio_sid,omitempty"`
	TwilioAuthToken string `json:"twilio_auth_token,omitempty"`
	TwilioPhoneSID  string `json:"twilio_phone_sid,omitempty"`

	WhatsAppInstanceIDs []string          `json:"whatsapp_instance_ids,omitempty"`
	WhatsAppTokens      map[string]string `json:"whatsapp_tokens,omitempty"`
}

type Integration struct {
	ID                      string      `json:"id"`
	Kind                    string      `json:"kind"`
	ErxesAPIID              string      `json:"erxes_api_id"`
	AggregatorIntegrationID string      `json:"aggregator_integration_id,omitempty"`
	DisplayName             string      `json:"display_name,omitempty"`
	Credentials             Credentials `json:"credentials"`
	CreatedAt               time.Time   `json:"created_at"`
}

// PrimaryInstance returns the first registered WhatsApp instance and its token.
// Integrations bound to several instances always reply through the first one.
func (i *Integration) PrimaryInstance() (instanceID, token string, ok bool) {
	if len(i.Credentials.WhatsAppInstanceIDs) == 0 {
		return "", "", false
	}
	instanceID = i.Credentials.WhatsAppInstanceIDs[0]
	return instanceID, i.Credentials.WhatsAppTokens[instanceID], true
}

// HasInstance reports whether instanceID is bound to this integration.
func (i *Integration) HasInstance(instanceID string) bool {
	for _, id := range i.Credentials.WhatsAppInstanceIDs {
		if id == instanceID {
			return true
		}
	}
	return false
}
