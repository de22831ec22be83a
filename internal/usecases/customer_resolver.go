package usecases

import (
	"context"

	"chatrelay/internal/entities"
	"chatrelay/internal/interfaces"

	"github.com/rs/zerolog"
)

// CustomerResolver finds or creates the Customer behind a platform user.
type CustomerResolver struct {
	avatars interfaces.AvatarResolver
	log     zerolog.Logger
}

func NewCustomerResolver(avatars interfaces.AvatarResolver, log zerolog.Logger) *CustomerResolver {
	return &CustomerResolver{avatars: avatars, log: log.With().Str("component", "customer_resolver").Logger()}
}

// ResolveCustomer returns the id of the customer for (integration, user). An
// existing customer is returned untouched. A new one gets its avatar from at
// most one lookup, chosen by the platform's hint.
func (r *CustomerResolver) ResolveCustomer(ctx context.Context, platform *Platform, integration *entities.Integration, user entities.PlatformUser, client entities.ClientProfile) (string, error) {
	if user.ID == "" {
		return "", entities.NewValidationError(entities.CodeInvalidPayload, "platform user id is required")
	}
	store := platform.Models.Customers

	existing, err := store.FindByPlatformUser(ctx, integration.ID, user.ID)
	if err != nil {
		return "", entities.NewPersistenceError(err, "find customer")
	}
	if existing != nil {
		return existing.ID, nil
	}

	customer := &entities.Customer{
		IntegrationID:  integration.ID,
		PlatformUserID: user.ID,
		GivenName:      user.GivenName,
		Surname:        user.Surname,
		Phone:          user.Phone,
	}
	hint := platform.Variant.AvatarHint(client)
	if hint.Phone != "" {
		customer.Phone = hint.Phone
	}
	customer.AvatarURL = r.avatarURL(ctx, integration, hint)

	created, err := store.CreateIfAbsent(ctx, customer)
	if err != nil {
		return "", entities.NewPersistenceError(err, "create customer")
	}
	if created {
		r.log.Info().
			Str("integration_id", integration.ID).
			Str("customer_id", customer.ID).
			Str("kind", platform.Kind).
			Msg("customer created")
	}
	return customer.ID, nil
}

// avatarURL never fails the resolution; a missing avatar only costs a picture.
func (r *CustomerResolver) avatarURL(ctx context.Context, integration *entities.Integration, hint AvatarHint) string {
	if hint.FileID == "" {
		return hint.PictureURL
	}
	token := integration.Credentials.TelegramBotToken
	if r.avatars == nil || token == "" {
		return hint.PictureURL
	}
	url, err := r.avatars.ResolveFileURL(ctx, token, hint.FileID)
	if err != nil {
		r.log.Warn().Err(err).Str("integration_id", integration.ID).Msg("resolve avatar file")
		return hint.PictureURL
	}
	return url
}
