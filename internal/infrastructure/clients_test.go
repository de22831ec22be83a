package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whatsAppSendRequest() interfaces.SendRequest {
	return interfaces.SendRequest{
		Integration: &entities.Integration{
			Kind: entities.KindWhatsApp,
			Credentials: entities.Credentials{
				WhatsAppInstanceIDs: []string{"111", "222"},
				WhatsAppTokens:      map[string]string{"111": "tok-1", "222": "tok-2"},
			},
		},
		Conversation: &entities.Conversation{PlatformConversationID: "7900@c.us", RecipientID: "7900@c.us"},
		Content:      "hello",
	}
}

func TestChatAPISendTextUsesFirstInstance(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotToken = r.URL.Path, r.URL.Query().Get("token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"sent":true,"id":"true_7900@c.us_ABC"}`))
	}))
	defer srv.Close()

	c := NewChatAPIClient(srv.URL, srv.Client())
	id, err := c.SendText(context.Background(), whatsAppSendRequest())
	require.NoError(t, err)
	assert.Equal(t, "true_7900@c.us_ABC", id)
	assert.Equal(t, "/instance111/sendMessage", gotPath)
	assert.Equal(t, "tok-1", gotToken)
	assert.Equal(t, map[string]string{"chatId": "7900@c.us", "body": "hello"}, gotBody)
}

func TestChatAPISendFile(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"sent":true,"id":"file-1"}`))
	}))
	defer srv.Close()

	req := whatsAppSendRequest()
	req.Attachment = &entities.Attachment{URL: "https://files.example/docs/invoice.pdf?sig=1"}
	id, err := NewChatAPIClient(srv.URL, nil).SendFile(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "file-1", id)
	assert.Equal(t, "/instance111/sendFile", gotPath)
	assert.Equal(t, "invoice.pdf", gotBody["filename"])
	assert.Equal(t, "hello", gotBody["caption"])
	assert.Equal(t, "https://files.example/docs/invoice.pdf?sig=1", gotBody["body"])
}

func TestChatAPIFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sent":false,"message":"instance not authorized"}`))
	}))
	defer srv.Close()
	c := NewChatAPIClient(srv.URL, nil)

	_, err := c.SendText(context.Background(), whatsAppSendRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance not authorized")

	req := whatsAppSendRequest()
	req.Integration.Credentials = entities.Credentials{}
	_, err = c.SendText(context.Background(), req)
	assert.Equal(t, entities.KindValidation, entities.KindOf(err))
}

func TestFileNameOf(t *testing.T) {
	assert.Equal(t, "a.png", fileNameOf("https://x.example/a.png"))
	assert.Equal(t, "file", fileNameOf("https://x.example/"))
	assert.Equal(t, "file", fileNameOf("://bad"))
}
