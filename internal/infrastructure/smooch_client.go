package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const defaultSmoochAPIURL = "https://api.smooch.io"

// Keys of runtime overrides in the integration_configs table.
const (
	ConfigSmoochAppKeyID     = "SMOOCH_APP_KEY_ID"
	ConfigSmoochAppKeySecret = "SMOOCH_APP_KEY_SECRET"
	ConfigSmoochAppID        = "SMOOCH_APP_ID"
	ConfigSmoochAPIURL       = "SMOOCH_API_URL"
)

// Smooch client lifecycle states.
const (
	SmoochUninitialized = "uninitialized"
	SmoochInitializing  = "initializing"
	SmoochReady         = "ready"
	SmoochDegraded      = "degraded"
)

// ConfigSource reads runtime configuration values; "" means unset.
type ConfigSource interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type SmoochSettings struct {
	KeyID   string
	Secret  string
	AppID   string
	BaseURL string
}

// SmoochClient talks to the Smooch REST API with an app-scoped JWT. It must be
// started once; until Start finishes, calls wait for it, and after a failed
// start they fail with entities.ErrNotConfigured.
type SmoochClient struct {
	defaults   SmoochSettings
	configs    ConfigSource
	httpClient *http.Client
	log        zerolog.Logger

	mu       sync.RWMutex
	state    string
	settings SmoochSettings
	token    string
	ready    chan struct{}
}

func NewSmoochClient(defaults SmoochSettings, configs ConfigSource, httpClient *http.Client, log zerolog.Logger) *SmoochClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SmoochClient{
		defaults:   defaults,
		configs:    configs,
		httpClient: httpClient,
		log:        log.With().Str("component", "smooch").Logger(),
		state:      SmoochUninitialized,
		ready:      make(chan struct{}),
	}
}

// Start moves the client to initializing and resolves credentials in the
// background (stored overrides win over defaults). Missing credentials leave
// the client degraded, which is not an error for the process.
func (c *SmoochClient) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != SmoochUninitialized {
		return
	}
	c.state = SmoochInitializing
	go c.initialize(ctx)
}

func (c *SmoochClient) initialize(ctx context.Context) {
	settings := c.resolveSettings(ctx)
	state, token := SmoochDegraded, ""
	switch {
	case settings.KeyID == "" || settings.Secret == "" || settings.AppID == "":
		c.log.Warn().
			Bool("key_id_set", settings.KeyID != "").
			Bool("secret_set", settings.Secret != "").
			Bool("app_id_set", settings.AppID != "").
			Msg("smooch credentials missing; aggregator calls disabled")
	default:
		signed, err := signAppToken(settings.KeyID, settings.Secret)
		if err != nil {
			c.log.Error().Err(err).Msg("sign smooch app token")
			break
		}
		state, token = SmoochReady, signed
		c.log.Info().Str("app_id", settings.AppID).Msg("smooch client ready")
	}

	c.mu.Lock()
	c.state, c.settings, c.token = state, settings, token
	c.mu.Unlock()
	close(c.ready)
}

// Ready is closed once initialization finished, in either outcome.
func (c *SmoochClient) Ready() <-chan struct{} {
	return c.ready
}

func (c *SmoochClient) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *SmoochClient) resolveSettings(ctx context.Context) SmoochSettings {
	s := c.defaults
	if c.configs != nil {
		override := func(key string, dst *string) {
			v, err := c.configs.GetConfig(ctx, key)
			if err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("read smooch config override")
				return
			}
			if v != "" {
				*dst = v
			}
		}
		override(ConfigSmoochAppKeyID, &s.KeyID)
		override(ConfigSmoochAppKeySecret, &s.Secret)
		override(ConfigSmoochAppID, &s.AppID)
		override(ConfigSmoochAPIURL, &s.BaseURL)
	}
	if s.BaseURL == "" {
		s.BaseURL = defaultSmoochAPIURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return s
}

func signAppToken(keyID, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": "app"})
	token.Header["kid"] = keyID
	return token.SignedString([]byte(secret))
}

func (c *SmoochClient) await(ctx context.Context) (SmoochSettings, string, error) {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == SmoochUninitialized {
		return SmoochSettings{}, "", entities.ErrNotConfigured
	}

	select {
	case <-c.ready:
	case <-ctx.Done():
		return SmoochSettings{}, "", ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != SmoochReady {
		return SmoochSettings{}, "", entities.ErrNotConfigured
	}
	return c.settings, c.token, nil
}

// CreateIntegration creates an integration in the Smooch app and returns its id.
func (c *SmoochClient) CreateIntegration(ctx context.Context, props map[string]any) (string, error) {
	settings, token, err := c.await(ctx)
	if err != nil {
		return "", err
	}
	var out struct {
		Integration struct {
			ID string `json:"_id"`
		} `json:"integration"`
	}
	endpoint := fmt.Sprintf("%s/v1.1/apps/%s/integrations", settings.BaseURL, url.PathEscape(settings.AppID))
	if err := c.post(ctx, endpoint, token, props, &out); err != nil {
		return "", err
	}
	if out.Integration.ID == "" {
		return "", fmt.Errorf("smooch: integration id missing from response")
	}
	return out.Integration.ID, nil
}

type smoochMessage struct {
	Role     string `json:"role"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

func (c *SmoochClient) SendText(ctx context.Context, req interfaces.SendRequest) (string, error) {
	return c.sendMessage(ctx, req.Customer, smoochMessage{Role: "appMaker", Type: "text", Text: req.Content})
}

func (c *SmoochClient) SendFile(ctx context.Context, req interfaces.SendRequest) (string, error) {
	if req.Attachment == nil {
		return c.SendText(ctx, req)
	}
	return c.sendMessage(ctx, req.Customer, smoochMessage{
		Role:     "appMaker",
		Type:     "file",
		Text:     req.Content,
		MediaURL: req.Attachment.URL,
	})
}

func (c *SmoochClient) sendMessage(ctx context.Context, customer *entities.Customer, msg smoochMessage) (string, error) {
	settings, token, err := c.await(ctx)
	if err != nil {
		return "", err
	}
	var out struct {
		Message struct {
			ID string `json:"_id"`
		} `json:"message"`
	}
	endpoint := fmt.Sprintf("%s/v1.1/apps/%s/appusers/%s/messages",
		settings.BaseURL, url.PathEscape(settings.AppID), url.PathEscape(customer.PlatformUserID))
	if err := c.post(ctx, endpoint, token, msg, &out); err != nil {
		return "", err
	}
	return out.Message.ID, nil
}

func (c *SmoochClient) post(ctx context.Context, endpoint, token string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("smooch request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("smooch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("smooch: decode response: %w", err)
	}
	return nil
}
