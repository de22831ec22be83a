package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"chatrelay/internal/entities"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Device session states reported by the status endpoint.
const (
	DeviceStatusPairing      = "pairing"
	DeviceStatusConnected    = "connected"
	DeviceStatusDisconnected = "disconnected"
	DeviceStatusLoggedOut    = "logged_out"
)

// WhatsAppClient is one locally paired WhatsApp multi-device session, bound to
// an instance id of a whatsapp-web integration.
type WhatsAppClient struct {
	Client     *whatsmeow.Client
	InstanceID string

	container *sqlstore.Container
	log       zerolog.Logger

	qrCode   string
	loggedIn bool
	qrLock   sync.RWMutex
}

func NewWhatsAppClient(ctx context.Context, instanceID, dbPath string, log zerolog.Logger) (*WhatsAppClient, error) {
	log = log.With().Str("instance_id", instanceID).Logger()
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(log.With().Str("module", "database").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	// Get the first device (or create one)
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(log.With().Str("module", "client").Logger()))
	return &WhatsAppClient{
		Client:     client,
		InstanceID: instanceID,
		container:  container,
		log:        log,
		loggedIn:   deviceStore.ID != nil,
	}, nil
}

// Connect opens the session. A device without a stored identity starts
// pairing; the current QR code is then available from GetQR.
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.log.Info().Msg("whatsapp device connected with existing session")
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("open qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			w.log.Debug().Msg("new pairing code")
		case "success":
			w.qrLock.Lock()
			w.qrCode = ""
			w.loggedIn = true
			w.qrLock.Unlock()
			w.log.Info().Msg("whatsapp device paired")
		default:
			w.log.Info().Str("event", evt.Event).Msg("pairing event")
		}
	}
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

// Status summarizes the session for operators.
func (w *WhatsAppClient) Status() string {
	w.qrLock.RLock()
	loggedIn, qr := w.loggedIn, w.qrCode
	w.qrLock.RUnlock()
	switch {
	case w.Client.IsConnected() && w.Client.Store.ID != nil:
		return DeviceStatusConnected
	case qr != "":
		return DeviceStatusPairing
	case !loggedIn && w.Client.Store.ID == nil:
		return DeviceStatusLoggedOut
	default:
		return DeviceStatusDisconnected
	}
}

// GetPhoneNumber returns the connected phone number
func (w *WhatsAppClient) GetPhoneNumber() string {
	if w.Client.Store.ID == nil {
		return ""
	}
	return w.Client.Store.ID.User
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.loggedIn = false
	w.qrLock.Unlock()
	return w.Client.Logout(ctx)
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
	if err := w.container.Close(); err != nil {
		w.log.Warn().Err(err).Msg("close device store")
	}
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

// SendText sends content to a chat JID (or a bare phone number) and returns the
// WhatsApp message id.
func (w *WhatsAppClient) SendText(ctx context.Context, to, content string) (string, error) {
	jid, err := parseChatJID(to)
	if err != nil {
		return "", err
	}
	resp, err := w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &content,
	})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func parseChatJID(to string) (types.JID, error) {
	if !strings.Contains(to, "@") {
		to += "@" + types.DefaultUserServer
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	return jid, nil
}

// DeviceMessageToBatch converts a received device message into a one-event
// inbound batch. Own messages, status broadcasts and empty messages are skipped.
func DeviceMessageToBatch(instanceID string, evt *events.Message) (entities.InboundBatch, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return entities.InboundBatch{}, false
	}

	ev := entities.InboundEvent{
		PlatformMessageID: string(evt.Info.ID),
		Type:              "text",
		Received:          float64(evt.Info.Timestamp.Unix()),
	}
	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		ev.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		ev.Text = msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		ev.Type, ev.Text, ev.MediaType, ev.MediaURL = "image", img.GetCaption(), img.GetMimetype(), img.GetURL()
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		ev.Type, ev.Text, ev.MediaType, ev.MediaURL = "file", doc.GetCaption(), doc.GetMimetype(), doc.GetURL()
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		ev.Type, ev.Text, ev.MediaType, ev.MediaURL = "video", vid.GetCaption(), vid.GetMimetype(), vid.GetURL()
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		ev.Type, ev.MediaType, ev.MediaURL = "audio", aud.GetMimetype(), aud.GetURL()
	default:
		return entities.InboundBatch{}, false
	}

	sender := evt.Info.Sender.ToNonAD()
	return entities.InboundBatch{
		Trigger:     entities.TriggerNewUserMessage,
		Integration: entities.IntegrationRef{Kind: entities.KindWhatsAppWeb, InstanceID: instanceID},
		User: entities.PlatformUser{
			ID:        sender.String(),
			GivenName: evt.Info.PushName,
			Phone:     sender.User,
		},
		Client: entities.ClientProfile{Platform: entities.KindWhatsAppWeb, DisplayName: evt.Info.PushName},
		Thread: entities.Thread{ID: evt.Info.Chat.ToNonAD().String(), RecipientID: instanceID},
		Events: []entities.InboundEvent{ev},
	}, true
}
