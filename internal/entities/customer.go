package entities

import "time"

// Customer is the canonical record for one platform user within one integration.
// Unique per (IntegrationID, PlatformUserID).
type Customer struct {
	ID             string    `json:"id"`
	IntegrationID  string    `json:"integration_id"`
	PlatformUserID string    `json:"platform_user_id"`
	GivenName      string    `json:"given_name"`
	Surname        string    `json:"surname"`
	Phone          string    `json:"phone,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PlatformUser is the platform-native user descriptor carried by an inbound event.
type PlatformUser struct {
	ID        string
	GivenName string
	Surname   string
	Phone     string
}
