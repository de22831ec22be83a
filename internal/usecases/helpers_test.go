package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"
	"chatrelay/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []interfaces.SendRequest
	files []interfaces.SendRequest
	id    string
	err   error
}

func (s *fakeSender) SendText(_ context.Context, req interfaces.SendRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, req)
	return s.id, s.err
}

func (s *fakeSender) SendFile(_ context.Context, req interfaces.SendRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, req)
	return s.id, s.err
}

func (s *fakeSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts) + len(s.files)
}

type publishedEvent struct {
	Type string
	Data any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Data: data})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeAvatars struct {
	mu    sync.Mutex
	calls int
	url   string
	err   error
}

func (a *fakeAvatars) ResolveFileURL(_ context.Context, _, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.url, a.err
}

type fakeAggregator struct {
	calls int
	props map[string]any
	id    string
	err   error
}

func (a *fakeAggregator) CreateIntegration(_ context.Context, props map[string]any) (string, error) {
	a.calls++
	a.props = props
	return a.id, a.err
}

type fakeDevices struct {
	connected    []string
	disconnected []string
	err          error
}

func (d *fakeDevices) Connect(_ context.Context, instanceID string) error {
	if d.err != nil {
		return d.err
	}
	d.connected = append(d.connected, instanceID)
	return nil
}

func (d *fakeDevices) Disconnect(instanceID string) {
	d.disconnected = append(d.disconnected, instanceID)
}

type fakeTokens struct {
	forgotten []string
}

func (f *fakeTokens) Forget(token string) {
	f.forgotten = append(f.forgotten, token)
}

// flakyIntegrations fails the first setAggregatorFailures SetAggregatorID calls.
type flakyIntegrations struct {
	*repository.MemoryIntegrationRepository
	setAggregatorFailures int
	setAggregatorCalls    int
}

func (f *flakyIntegrations) SetAggregatorID(ctx context.Context, id, aggregatorID string) error {
	f.setAggregatorCalls++
	if f.setAggregatorCalls <= f.setAggregatorFailures {
		return errBoom
	}
	return f.MemoryIntegrationRepository.SetAggregatorID(ctx, id, aggregatorID)
}

type memoryModels struct {
	customers     *repository.MemoryCustomerRepository
	conversations *repository.MemoryConversationRepository
	messages      *repository.MemoryMessageRepository
}

// testEnv wires every usecase against in-memory stores.
type testEnv struct {
	registry     *Registry
	integrations *repository.MemoryIntegrationRepository
	models       map[string]memoryModels
	senders      map[string]*fakeSender
	publisher    *recordingPublisher
	avatars      *fakeAvatars
	aggregator   *fakeAggregator
	devices      *fakeDevices
	tokens       *fakeTokens

	inbound     *InboundNormalizer
	replies     *ReplyDispatcher
	provisioner *Provisioner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	env := &testEnv{
		registry:     NewRegistry(),
		integrations: repository.NewMemoryIntegrationRepository(),
		models:       map[string]memoryModels{},
		senders:      map[string]*fakeSender{},
		publisher:    &recordingPublisher{},
		avatars:      &fakeAvatars{url: "https://files.example/avatar.jpg"},
		aggregator:   &fakeAggregator{id: "agg-1"},
		devices:      &fakeDevices{},
		tokens:       &fakeTokens{},
	}
	for _, v := range DefaultVariants() {
		m := memoryModels{
			customers:     repository.NewMemoryCustomerRepository(),
			conversations: repository.NewMemoryConversationRepository(),
			messages:      repository.NewMemoryMessageRepository(),
		}
		sender := &fakeSender{id: "platform-msg-1"}
		env.models[v.Kind()] = m
		env.senders[v.Kind()] = sender
		require.NoError(t, env.registry.Register(Platform{
			Kind:    v.Kind(),
			Models:  ModelSet{Customers: m.customers, Conversations: m.conversations, Messages: m.messages},
			Variant: v,
			Sender:  sender,
		}))
	}

	recorder := NewMessageRecorder(env.publisher, log)
	env.inbound = NewInboundNormalizer(
		env.registry,
		env.integrations,
		NewCustomerResolver(env.avatars, log),
		NewConversationManager(log),
		recorder,
		log,
	)
	env.replies = NewReplyDispatcher(env.registry, env.integrations, recorder, log)
	env.provisioner = NewProvisioner(env.registry, env.integrations, env.aggregator, env.devices, env.tokens, log)
	return env
}

func (e *testEnv) addIntegration(t *testing.T, in entities.Integration) *entities.Integration {
	t.Helper()
	require.NoError(t, e.integrations.Create(context.Background(), &in))
	return &in
}

func telegramBatch(messageIDs ...string) entities.InboundBatch {
	batch := entities.InboundBatch{
		Trigger:     entities.TriggerNewUserMessage,
		Integration: entities.IntegrationRef{AggregatorID: "agg-tg", Kind: "telegram"},
		User:        entities.PlatformUser{ID: "u1", GivenName: "Ann", Surname: "Lee"},
		Client:      entities.ClientProfile{Platform: "telegram"},
		Thread:      entities.Thread{ID: "c1", RecipientID: "u1"},
	}
	for _, id := range messageIDs {
		batch.Events = append(batch.Events, entities.InboundEvent{PlatformMessageID: id, Text: "hi", Type: "text"})
	}
	return batch
}

func telegramIntegration() entities.Integration {
	return entities.Integration{
		Kind:                    entities.KindTelegram,
		ErxesAPIID:              "erxes-tg",
		AggregatorIntegrationID: "agg-tg",
		Credentials:             entities.Credentials{TelegramBotToken: "bot-token"},
	}
}

var errBoom = errors.New("boom")
