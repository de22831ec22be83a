package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"
	"chatrelay/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type smoochServer struct {
	*httptest.Server
	t        *testing.T
	paths    []string
	messages []map[string]any
}

func newSmoochServer(t *testing.T, secret, keyID string) *smoochServer {
	s := &smoochServer{t: t}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || token.Header["kid"] != keyID {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if claims, _ := token.Claims.(jwt.MapClaims); claims["scope"] != "app" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		s.paths = append(s.paths, r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/integrations"):
			_, _ = w.Write([]byte(`{"integration":{"_id":"int-1"}}`))
		case strings.HasSuffix(r.URL.Path, "/messages"):
			s.messages = append(s.messages, body)
			_, _ = w.Write([]byte(`{"message":{"_id":"msg-1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func startedSmooch(t *testing.T, settings SmoochSettings, configs ConfigSource) *SmoochClient {
	t.Helper()
	c := NewSmoochClient(settings, configs, nil, zerolog.Nop())
	c.Start(context.Background())
	select {
	case <-c.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("smooch client did not initialize")
	}
	return c
}

func TestSmoochCreateIntegrationAndSend(t *testing.T) {
	srv := newSmoochServer(t, "secret", "key-1")
	c := startedSmooch(t, SmoochSettings{KeyID: "key-1", Secret: "secret", AppID: "app1", BaseURL: srv.URL}, nil)
	require.Equal(t, SmoochReady, c.State())
	ctx := context.Background()

	id, err := c.CreateIntegration(ctx, map[string]any{"type": "telegram", "token": "t"})
	require.NoError(t, err)
	assert.Equal(t, "int-1", id)

	req := interfaces.SendRequest{
		Customer:   &entities.Customer{PlatformUserID: "user-9"},
		Content:    "see file",
		Attachment: &entities.Attachment{URL: "https://files.example/a.pdf"},
	}
	msgID, err := c.SendFile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msgID)

	assert.Equal(t, []string{"/v1.1/apps/app1/integrations", "/v1.1/apps/app1/appusers/user-9/messages"}, srv.paths)
	require.Len(t, srv.messages, 1)
	assert.Equal(t, "appMaker", srv.messages[0]["role"])
	assert.Equal(t, "file", srv.messages[0]["type"])
	assert.Equal(t, "https://files.example/a.pdf", srv.messages[0]["mediaUrl"])
}

func TestSmoochStoredOverridesWin(t *testing.T) {
	srv := newSmoochServer(t, "stored-secret", "key-1")
	configs := repository.NewMemoryConfigRepository()
	ctx := context.Background()
	require.NoError(t, configs.SetConfig(ctx, ConfigSmoochAppKeySecret, "stored-secret"))
	require.NoError(t, configs.SetConfig(ctx, ConfigSmoochAppID, "app2"))

	c := startedSmooch(t, SmoochSettings{KeyID: "key-1", Secret: "env-secret", AppID: "app1", BaseURL: srv.URL}, configs)
	_, err := c.SendText(ctx, interfaces.SendRequest{Customer: &entities.Customer{PlatformUserID: "u"}, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/v1.1/apps/app2/appusers/u/messages"}, srv.paths)
}

func TestSmoochDegradedWithoutCredentials(t *testing.T) {
	c := startedSmooch(t, SmoochSettings{AppID: "app1"}, nil)
	assert.Equal(t, SmoochDegraded, c.State())

	_, err := c.CreateIntegration(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, entities.ErrNotConfigured)
}

func TestSmoochNotStarted(t *testing.T) {
	c := NewSmoochClient(SmoochSettings{KeyID: "k", Secret: "s", AppID: "a"}, nil, nil, zerolog.Nop())
	assert.Equal(t, SmoochUninitialized, c.State())

	_, err := c.SendText(context.Background(), interfaces.SendRequest{Customer: &entities.Customer{}})
	assert.ErrorIs(t, err, entities.ErrNotConfigured)
}

type blockingConfig struct {
	release chan struct{}
}

func (b *blockingConfig) GetConfig(ctx context.Context, _ string) (string, error) {
	select {
	case <-b.release:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSmoochCallsWaitForInitialization(t *testing.T) {
	srv := newSmoochServer(t, "secret", "key-1")
	configs := &blockingConfig{release: make(chan struct{})}
	c := NewSmoochClient(SmoochSettings{KeyID: "key-1", Secret: "secret", AppID: "app1", BaseURL: srv.URL}, configs, nil, zerolog.Nop())
	c.Start(context.Background())
	assert.Equal(t, SmoochInitializing, c.State())

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.CreateIntegration(short, map[string]any{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(configs.release)
	id, err := c.CreateIntegration(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "int-1", id)
}

func TestSmoochUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"bad_request"}}`))
	}))
	defer srv.Close()
	c := startedSmooch(t, SmoochSettings{KeyID: "k", Secret: "s", AppID: "a", BaseURL: srv.URL}, nil)

	_, err := c.CreateIntegration(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
