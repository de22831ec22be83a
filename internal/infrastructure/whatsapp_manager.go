package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/types/events"
)

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// WhatsAppManager owns the device sessions of whatsapp-web integrations, keyed
// by instance id. It pairs devices during provisioning and sends replies.
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	log     zerolog.Logger

	// Inbound receives every device message converted to an inbound batch.
	Inbound func(ctx context.Context, batch entities.InboundBatch)
}

func NewWhatsAppManager(baseDir string, log zerolog.Logger) (*WhatsAppManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create devices directory: %w", err)
	}
	return &WhatsAppManager{
		clients: make(map[string]*WhatsAppClient),
		baseDir: baseDir,
		log:     log.With().Str("component", "whatsapp_devices").Logger(),
	}, nil
}

// GetClient returns the session of instanceID, or nil.
func (m *WhatsAppManager) GetClient(instanceID string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[instanceID]
}

func (m *WhatsAppManager) getOrCreateClient(ctx context.Context, instanceID string) (*WhatsAppClient, bool, error) {
	if !instanceIDPattern.MatchString(instanceID) {
		return nil, false, entities.NewValidationError(entities.CodeMalformedCredentials, "invalid instance id %q", instanceID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if client, exists := m.clients[instanceID]; exists {
		return client, false, nil
	}

	dbPath := filepath.Join(m.baseDir, instanceID+".db")
	client, err := NewWhatsAppClient(ctx, instanceID, dbPath, m.log)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create WhatsApp client for instance %s: %w", instanceID, err)
	}
	client.AddHandler(m.eventHandler(instanceID))
	m.clients[instanceID] = client
	return client, true, nil
}

// Connect creates the session of instanceID if needed and connects it.
func (m *WhatsAppManager) Connect(ctx context.Context, instanceID string) error {
	client, created, err := m.getOrCreateClient(ctx, instanceID)
	if err != nil {
		return err
	}
	if !created && client.Client.IsConnected() {
		return nil
	}
	if err := client.Connect(ctx); err != nil {
		if created {
			m.Disconnect(instanceID)
		}
		return fmt.Errorf("failed to connect WhatsApp instance %s: %w", instanceID, err)
	}
	return nil
}

func (m *WhatsAppManager) Disconnect(instanceID string) {
	m.mu.Lock()
	client, exists := m.clients[instanceID]
	delete(m.clients, instanceID)
	m.mu.Unlock()
	if exists {
		client.Disconnect()
	}
}

// Logout unpairs the device and drops the session. Unknown instances are a no-op.
func (m *WhatsAppManager) Logout(ctx context.Context, instanceID string) error {
	client := m.GetClient(instanceID)
	if client == nil {
		return nil
	}
	var err error
	if client.Client.Store.ID != nil {
		err = client.Logout(ctx)
	}
	m.Disconnect(instanceID)
	return err
}

// Restore reconnects sessions of already provisioned instances at startup.
func (m *WhatsAppManager) Restore(ctx context.Context, instanceIDs []string) {
	for _, id := range instanceIDs {
		if err := m.Connect(ctx, id); err != nil {
			m.log.Error().Err(err).Str("instance_id", id).Msg("restore device session")
		}
	}
}

// StoredInstances lists instance ids that have a device database on disk.
func (m *WhatsAppManager) StoredInstances() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.baseDir, "*.db"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), ".db")
		if instanceIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// QRCode returns the current pairing code of instanceID, or "".
func (m *WhatsAppManager) QRCode(instanceID string) string {
	if client := m.GetClient(instanceID); client != nil {
		return client.GetQR()
	}
	return ""
}

// Status returns the session status of instanceID; sessions never started
// report disconnected.
func (m *WhatsAppManager) Status(instanceID string) (status, phone string) {
	client := m.GetClient(instanceID)
	if client == nil {
		return DeviceStatusDisconnected, ""
	}
	return client.Status(), client.GetPhoneNumber()
}

// DisconnectAll disconnects all clients (for graceful shutdown)
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*WhatsAppClient)
	m.mu.Unlock()
	for _, client := range clients {
		client.Disconnect()
	}
}

func (m *WhatsAppManager) eventHandler(instanceID string) func(interface{}) {
	return func(evt interface{}) {
		switch e := evt.(type) {
		case *events.Message:
			batch, ok := DeviceMessageToBatch(instanceID, e)
			if !ok || m.Inbound == nil {
				return
			}
			m.Inbound(context.Background(), batch)
		case *events.LoggedOut:
			m.log.Warn().Str("instance_id", instanceID).Msg("whatsapp device logged out remotely")
		case *events.Connected:
			m.log.Info().Str("instance_id", instanceID).Msg("whatsapp device online")
		}
	}
}

// SendText replies through the integration's first instance. The recipient is
// the conversation's chat JID.
func (m *WhatsAppManager) SendText(ctx context.Context, req interfaces.SendRequest) (string, error) {
	return m.send(ctx, req, req.Content)
}

// SendFile sends the attachment URL as a text message, with the content as caption.
func (m *WhatsAppManager) SendFile(ctx context.Context, req interfaces.SendRequest) (string, error) {
	if req.Attachment == nil {
		return m.SendText(ctx, req)
	}
	body := req.Attachment.URL
	if req.Content != "" {
		body = req.Content + "\n" + body
	}
	return m.send(ctx, req, body)
}

func (m *WhatsAppManager) send(ctx context.Context, req interfaces.SendRequest, body string) (string, error) {
	instanceID, _, ok := req.Integration.PrimaryInstance()
	if !ok {
		return "", entities.NewValidationError(entities.CodeMalformedCredentials, "integration has no instance")
	}
	client := m.GetClient(instanceID)
	if client == nil || !client.Client.IsConnected() {
		return "", fmt.Errorf("whatsapp instance %s is not connected", instanceID)
	}
	return client.SendText(ctx, req.Conversation.PlatformConversationID, body)
}
