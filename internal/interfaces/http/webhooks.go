package http

import (
	"bytes"
	"encoding/json"
	"strings"

	"chatrelay/internal/entities"
)

type smoochWebhook struct {
	Trigger string `json:"trigger"`
	AppUser struct {
		ID        string `json:"_id"`
		GivenName string `json:"givenName"`
		Surname   string `json:"surname"`
	} `json:"appUser"`
	Messages []struct {
		ID        string  `json:"_id"`
		Text      string  `json:"text"`
		Type      string  `json:"type"`
		MediaType string  `json:"mediaType"`
		MediaURL  string  `json:"mediaUrl"`
		Received  float64 `json:"received"`
	} `json:"messages"`
	Conversation struct {
		ID string `json:"_id"`
	} `json:"conversation"`
	Client struct {
		Platform      string          `json:"platform"`
		IntegrationID string          `json:"integrationId"`
		DisplayName   string          `json:"displayName"`
		Raw           json.RawMessage `json:"raw"`
	} `json:"client"`
}

func (w smoochWebhook) toBatch() entities.InboundBatch {
	batch := entities.InboundBatch{
		Trigger:     w.Trigger,
		Integration: entities.IntegrationRef{AggregatorID: w.Client.IntegrationID, Kind: w.Client.Platform},
		User: entities.PlatformUser{
			ID:        w.AppUser.ID,
			GivenName: SanitizeString(w.AppUser.GivenName),
			Surname:   SanitizeString(w.AppUser.Surname),
		},
		Client: entities.ClientProfile{
			Platform:    w.Client.Platform,
			DisplayName: w.Client.DisplayName,
			Raw:         w.Client.Raw,
		},
		Thread: entities.Thread{ID: w.Conversation.ID, RecipientID: w.AppUser.ID},
	}
	for _, m := range w.Messages {
		batch.Events = append(batch.Events, entities.InboundEvent{
			PlatformMessageID: m.ID,
			Text:              SanitizeString(m.Text),
			Type:              m.Type,
			MediaType:         m.MediaType,
			MediaURL:          m.MediaURL,
			Received:          m.Received,
		})
	}
	return batch
}

// flexString accepts a JSON string or number; chat-api sends instance ids both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type chatAPIMessage struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	FromMe     bool   `json:"fromMe"`
	Author     string `json:"author"`
	ChatID     string `json:"chatId"`
	Type       string `json:"type"`
	SenderName string `json:"senderName"`
	Caption    string `json:"caption"`
	Time       int64  `json:"time"`
}

type chatAPIWebhook struct {
	InstanceID flexString       `json:"instanceId"`
	Messages   []chatAPIMessage `json:"messages"`
}

// toBatches groups messages by chat, keeping delivery order within each chat.
// Echoes of our own replies are dropped.
func (w chatAPIWebhook) toBatches() []entities.InboundBatch {
	var (
		batches []entities.InboundBatch
		index   = map[string]int{}
	)
	for _, m := range w.Messages {
		if m.FromMe {
			continue
		}
		ev := entities.InboundEvent{
			PlatformMessageID: m.ID,
			Type:              m.Type,
			Received:          float64(m.Time),
		}
		if m.Type == "" || m.Type == "chat" {
			ev.Text = SanitizeString(m.Body)
		} else {
			ev.Text = SanitizeString(m.Caption)
			ev.MediaType = m.Type
			ev.MediaURL = m.Body
		}

		i, ok := index[m.ChatID]
		if !ok {
			author := m.Author
			if author == "" {
				author = m.ChatID
			}
			batches = append(batches, entities.InboundBatch{
				Trigger:     entities.TriggerNewUserMessage,
				Integration: entities.IntegrationRef{Kind: entities.KindWhatsApp, InstanceID: string(w.InstanceID)},
				User: entities.PlatformUser{
					ID:        author,
					GivenName: SanitizeString(m.SenderName),
					Phone:     phoneFromChatID(author),
				},
				Client: entities.ClientProfile{Platform: entities.KindWhatsApp, DisplayName: m.SenderName},
				Thread: entities.Thread{ID: m.ChatID, RecipientID: m.ChatID},
			})
			i = len(batches) - 1
			index[m.ChatID] = i
		}
		batches[i].Events = append(batches[i].Events, ev)
	}
	return batches
}

// phoneFromChatID strips the WhatsApp server suffix ("79001234567@c.us").
func phoneFromChatID(chatID string) string {
	phone, _, _ := strings.Cut(chatID, "@")
	return phone
}
