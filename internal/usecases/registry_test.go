package usecases

import (
	"testing"

	"chatrelay/internal/entities"
	"chatrelay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKind(t *testing.T) {
	assert.Equal(t, "telegram", NormalizeKind("smooch-telegram"))
	assert.Equal(t, "viber", NormalizeKind(" Smooch-Viber "))
	assert.Equal(t, "whatsapp-web", NormalizeKind("whatsapp-web"))
	assert.Equal(t, "line", NormalizeKind("line"))
}

func TestRegistryLookup(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.registry.Lookup("smooch-line")
	require.NoError(t, err)
	assert.Equal(t, entities.KindLine, p.Kind)
	assert.NotNil(t, p.Models.Customers)

	_, err = env.registry.Lookup("facebook")
	require.Error(t, err)
	assert.ErrorIs(t, err, entities.ErrUnknownIntegrationKind)
	assert.Equal(t, entities.KindValidation, entities.KindOf(err))

	assert.Equal(t, []string{"line", "telegram", "twilio", "viber", "whatsapp", "whatsapp-web"}, env.registry.Kinds())
}

func TestRegistryRejectsDuplicatesAndIncompletePlatforms(t *testing.T) {
	r := NewRegistry()
	models := ModelSet{
		Customers:     repository.NewMemoryCustomerRepository(),
		Conversations: repository.NewMemoryConversationRepository(),
		Messages:      repository.NewMemoryMessageRepository(),
	}
	require.NoError(t, r.Register(Platform{Kind: "telegram", Models: models, Variant: telegramVariant{}}))
	assert.Error(t, r.Register(Platform{Kind: "smooch-telegram", Models: models, Variant: telegramVariant{}}))
	assert.Error(t, r.Register(Platform{Kind: "viber", Variant: viberVariant{}}))
	assert.Error(t, r.Register(Platform{Kind: "line", Models: models}))
	assert.Panics(t, func() { r.MustRegister(Platform{Kind: "telegram", Models: models, Variant: telegramVariant{}}) })
}
