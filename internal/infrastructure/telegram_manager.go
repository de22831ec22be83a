package infrastructure

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramBotManager keeps one Bot API handle per bot token. The relay never
// polls Telegram itself; the handles are used to resolve profile photo files.
type TelegramBotManager struct {
	bots     map[string]*tgbotapi.BotAPI
	mu       sync.RWMutex
	endpoint string
	client   *http.Client
}

// NewTelegramBotManager uses endpoint as the Bot API endpoint format
// (tgbotapi.APIEndpoint when empty).
func NewTelegramBotManager(endpoint string, client *http.Client) *TelegramBotManager {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramBotManager{
		bots:     make(map[string]*tgbotapi.BotAPI),
		endpoint: endpoint,
		client:   client,
	}
}

// GetBot returns the cached bot for token, creating it on first use.
func (m *TelegramBotManager) GetBot(token string) (*tgbotapi.BotAPI, error) {
	m.mu.RLock()
	bot, ok := m.bots[token]
	m.mu.RUnlock()
	if ok {
		return bot, nil
	}

	// NewBotAPIWithClient calls getMe; keep it outside the lock.
	created, err := tgbotapi.NewBotAPIWithClient(token, m.endpoint, m.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if bot, ok := m.bots[token]; ok {
		return bot, nil
	}
	m.bots[token] = created
	return created, nil
}

// ResolveFileURL exchanges a Telegram file id for a direct download URL.
func (m *TelegramBotManager) ResolveFileURL(ctx context.Context, botToken, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bot, err := m.GetBot(botToken)
	if err != nil {
		return "", err
	}
	url, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get telegram file %s: %w", fileID, err)
	}
	return url, nil
}

// Forget drops the cached bot for token, e.g. after credentials rotate.
func (m *TelegramBotManager) Forget(token string) {
	m.mu.Lock()
	delete(m.bots, token)
	m.mu.Unlock()
}
