package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"
)

const defaultChatAPIURL = "https://eu8.chat-api.com"

// ChatAPIClient sends WhatsApp replies through chat-api instances. Each request
// is authenticated with the token stored for the instance.
type ChatAPIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewChatAPIClient(baseURL string, httpClient *http.Client) *ChatAPIClient {
	if baseURL == "" {
		baseURL = defaultChatAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ChatAPIClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type chatAPISendResponse struct {
	Sent    bool   `json:"sent"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (c *ChatAPIClient) SendText(ctx context.Context, req interfaces.SendRequest) (string, error) {
	return c.send(ctx, req, "sendMessage", map[string]string{
		"chatId": recipientOf(req.Conversation),
		"body":   req.Content,
	})
}

func (c *ChatAPIClient) SendFile(ctx context.Context, req interfaces.SendRequest) (string, error) {
	if req.Attachment == nil {
		return c.SendText(ctx, req)
	}
	return c.send(ctx, req, "sendFile", map[string]string{
		"chatId":   recipientOf(req.Conversation),
		"body":     req.Attachment.URL,
		"filename": fileNameOf(req.Attachment.URL),
		"caption":  req.Content,
	})
}

func (c *ChatAPIClient) send(ctx context.Context, req interfaces.SendRequest, method string, payload map[string]string) (string, error) {
	instanceID, token, ok := req.Integration.PrimaryInstance()
	if !ok || token == "" {
		return "", entities.NewValidationError(entities.CodeMalformedCredentials, "integration has no instance token")
	}

	endpoint := fmt.Sprintf("%s/instance%s/%s?token=%s", c.baseURL, url.PathEscape(instanceID), method, url.QueryEscape(token))
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat-api %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("chat-api %s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out chatAPISendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("chat-api %s: decode response: %w", method, err)
	}
	if !out.Sent {
		return "", fmt.Errorf("chat-api %s: message not sent: %s", method, out.Message)
	}
	return out.ID, nil
}

func recipientOf(conv *entities.Conversation) string {
	if conv.RecipientID != "" {
		return conv.RecipientID
	}
	return conv.PlatformConversationID
}

func fileNameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "file"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
