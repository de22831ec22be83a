package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatrelay/internal/entities"

	"github.com/google/uuid"
)

// In-memory implementations of the store ports. Used with STORAGE_DRIVER=memory
// and as fakes in tests; they honor the same uniqueness rules as the SQL tables.

type MemoryIntegrationRepository struct {
	mu    sync.RWMutex
	items map[string]entities.Integration
}

func NewMemoryIntegrationRepository() *MemoryIntegrationRepository {
	return &MemoryIntegrationRepository{items: make(map[string]entities.Integration)}
}

func (r *MemoryIntegrationRepository) Create(_ context.Context, in *entities.Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	for _, existing := range r.items {
		if existing.ErxesAPIID == in.ErxesAPIID {
			return fmt.Errorf("insert integration: duplicate erxes_api_id %s", in.ErxesAPIID)
		}
	}
	r.items[in.ID] = cloneIntegration(*in)
	return nil
}

func (r *MemoryIntegrationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *MemoryIntegrationRepository) FindByErxesAPIID(_ context.Context, erxesAPIID string) (*entities.Integration, error) {
	return r.find(func(in entities.Integration) bool { return in.ErxesAPIID == erxesAPIID }), nil
}

func (r *MemoryIntegrationRepository) FindByAggregatorID(_ context.Context, aggregatorID string) (*entities.Integration, error) {
	return r.find(func(in entities.Integration) bool {
		return aggregatorID != "" && in.AggregatorIntegrationID == aggregatorID
	}), nil
}

func (r *MemoryIntegrationRepository) FindByInstanceID(_ context.Context, kind, instanceID string) (*entities.Integration, error) {
	return r.find(func(in entities.Integration) bool { return in.Kind == kind && in.HasInstance(instanceID) }), nil
}

func (r *MemoryIntegrationRepository) SetAggregatorID(_ context.Context, id, aggregatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.items[id]
	if !ok {
		return fmt.Errorf("integration %s not found", id)
	}
	in.AggregatorIntegrationID = aggregatorID
	r.items[id] = in
	return nil
}

func (r *MemoryIntegrationRepository) UpdateCredentials(_ context.Context, id string, creds entities.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.items[id]
	if !ok {
		return fmt.Errorf("integration %s not found", id)
	}
	in.Credentials = creds
	r.items[id] = cloneIntegration(in)
	return nil
}

// Len returns the number of stored integrations.
func (r *MemoryIntegrationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *MemoryIntegrationRepository) find(match func(entities.Integration) bool) *entities.Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.items {
		if match(in) {
			out := cloneIntegration(in)
			return &out
		}
	}
	return nil
}

func cloneIntegration(in entities.Integration) entities.Integration {
	in.Credentials.WhatsAppInstanceIDs = append([]string(nil), in.Credentials.WhatsAppInstanceIDs...)
	if in.Credentials.WhatsAppTokens != nil {
		tokens := make(map[string]string, len(in.Credentials.WhatsAppTokens))
		for k, v := range in.Credentials.WhatsAppTokens {
			tokens[k] = v
		}
		in.Credentials.WhatsAppTokens = tokens
	}
	return in
}

type MemoryCustomerRepository struct {
	mu    sync.RWMutex
	items map[string]entities.Customer
}

func NewMemoryCustomerRepository() *MemoryCustomerRepository {
	return &MemoryCustomerRepository{items: make(map[string]entities.Customer)}
}

func (r *MemoryCustomerRepository) FindByPlatformUser(_ context.Context, integrationID, platformUserID string) (*entities.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(integrationID, platformUserID), nil
}

func (r *MemoryCustomerRepository) FindByID(_ context.Context, id string) (*entities.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryCustomerRepository) CreateIfAbsent(_ context.Context, c *entities.Customer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findLocked(c.IntegrationID, c.PlatformUserID); existing != nil {
		*c = *existing
		return false, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.items[c.ID] = *c
	return true, nil
}

func (r *MemoryCustomerRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *MemoryCustomerRepository) findLocked(integrationID, platformUserID string) *entities.Customer {
	for _, c := range r.items {
		if c.IntegrationID == integrationID && c.PlatformUserID == platformUserID {
			return &c
		}
	}
	return nil
}

type MemoryConversationRepository struct {
	mu    sync.RWMutex
	items map[string]entities.Conversation
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{items: make(map[string]entities.Conversation)}
}

func (r *MemoryConversationRepository) FindByPlatformConversation(_ context.Context, integrationID, platformConversationID string) (*entities.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(integrationID, platformConversationID), nil
}

func (r *MemoryConversationRepository) FindByID(_ context.Context, id string) (*entities.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryConversationRepository) CreateIfAbsent(_ context.Context, c *entities.Conversation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findLocked(c.IntegrationID, c.PlatformConversationID); existing != nil {
		*c = *existing
		return false, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.items[c.ID] = *c
	return true, nil
}

func (r *MemoryConversationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *MemoryConversationRepository) findLocked(integrationID, platformConversationID string) *entities.Conversation {
	for _, c := range r.items {
		if c.IntegrationID == integrationID && c.PlatformConversationID == platformConversationID {
			return &c
		}
	}
	return nil
}

type MemoryMessageRepository struct {
	mu    sync.RWMutex
	items []entities.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{}
}

func (r *MemoryMessageRepository) FindByPlatformMessage(_ context.Context, conversationID, platformMessageID string) (*entities.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(conversationID, platformMessageID), nil
}

func (r *MemoryMessageRepository) CreateIfAbsent(_ context.Context, m *entities.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findLocked(m.ConversationID, m.PlatformMessageID); existing != nil {
		*m = *existing
		return false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	stored := *m
	if m.Attachment != nil {
		att := *m.Attachment
		stored.Attachment = &att
	}
	r.items = append(r.items, stored)
	return true, nil
}

func (r *MemoryMessageRepository) ListByConversation(_ context.Context, conversationID string) ([]entities.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []entities.Message{}
	for _, m := range r.items {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryMessageRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *MemoryMessageRepository) findLocked(conversationID, platformMessageID string) *entities.Message {
	for _, m := range r.items {
		if m.ConversationID == conversationID && m.PlatformMessageID == platformMessageID {
			return &m
		}
	}
	return nil
}

// MemoryConfigRepository is the in-memory counterpart of ConfigRepository.
type MemoryConfigRepository struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryConfigRepository() *MemoryConfigRepository {
	return &MemoryConfigRepository{values: make(map[string]string)}
}

func (r *MemoryConfigRepository) GetConfig(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[key], nil
}

func (r *MemoryConfigRepository) SetConfig(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}
