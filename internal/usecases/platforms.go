package usecases

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"chatrelay/internal/entities"
)

// Transport tells provisioning and replies how a platform is reached.
type Transport int

const (
	// TransportAggregator platforms are proxied through the multi-channel aggregator.
	TransportAggregator Transport = iota
	// TransportDirect platforms are called directly with stored credentials.
	TransportDirect
	// TransportDevice platforms run as locally paired device sessions.
	TransportDevice
)

// AvatarHint is what a platform's raw profile offers towards a customer avatar.
type AvatarHint struct {
	Phone      string
	FileID     string
	PictureURL string
}

// PlatformVariant holds the per-kind behavior that used to live in if/else chains.
type PlatformVariant interface {
	Kind() string
	Transport() Transport
	AvatarHint(client entities.ClientProfile) AvatarHint
	BuildCredentials(props map[string]any) (entities.Credentials, error)
}

// DefaultVariants returns one variant per supported kind.
func DefaultVariants() []PlatformVariant {
	return []PlatformVariant{
		telegramVariant{},
		viberVariant{},
		lineVariant{},
		twilioVariant{},
		whatsAppVariant{},
		whatsAppWebVariant{},
	}
}

type telegramVariant struct{}

func (telegramVariant) Kind() string         { return entities.KindTelegram }
func (telegramVariant) Transport() Transport { return TransportAggregator }

func (telegramVariant) AvatarHint(client entities.ClientProfile) AvatarHint {
	var raw struct {
		ProfilePhotos struct {
			TotalCount int `json:"total_count"`
			Photos     [][]struct {
				FileID string `json:"file_id"`
			} `json:"photos"`
		} `json:"profile_photos"`
	}
	if len(client.Raw) == 0 || json.Unmarshal(client.Raw, &raw) != nil {
		return AvatarHint{}
	}
	photos := raw.ProfilePhotos
	if photos.TotalCount == 0 || len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return AvatarHint{}
	}
	return AvatarHint{FileID: photos.Photos[0][0].FileID}
}

func (telegramVariant) BuildCredentials(props map[string]any) (entities.Credentials, error) {
	token, err := requireProp(props, "token")
	if err != nil {
		return entities.Credentials{}, err
	}
	return entities.Credentials{TelegramBotToken: token}, nil
}

type viberVariant struct{}

func (viberVariant) Kind() string         { return entities.KindViber }
func (viberVariant) Transport() Transport { return TransportAggregator }

func (viberVariant) AvatarHint(client entities.ClientProfile) AvatarHint {
	var raw struct {
		Avatar string `json:"avatar"`
	}
	if len(client.Raw) == 0 || json.Unmarshal(client.Raw, &raw) != nil {
		return AvatarHint{}
	}
	return AvatarHint{PictureURL: raw.Avatar}
}

func (viberVariant) BuildCredentials(props map[string]any) (entities.Credentials, error) {
	token, err := requireProp(props, "token")
	if err != nil {
		return entities.Credentials{}, err
	}
	return entities.Credentials{ViberBotToken: token}, nil
}

type lineVariant struct{}

func (lineVariant) Kind() string         { return entities.KindLine }
func (lineVariant) Transport() Transport { return TransportAggregator }

func (lineVariant) AvatarHint(client entities.ClientProfile) AvatarHint {
	var raw struct {
		PictureURL string `json:"pictureUrl"`
	}
	if len(client.Raw) == 0 || json.Unmarshal(client.Raw, &raw) != nil {
		return AvatarHint{}
	}
	return AvatarHint{PictureURL: raw.PictureURL}
}

func (lineVariant) BuildCredentials(props map[string]any) (entities.Credentials, error) {
	channelID, err := requireProp(props, "channelId")
	if err != nil {
		return entities.Credentials{}, err
	}
	secret, err := requireProp(props, "channelSecret")
	if err != nil {
		return entities.Credentials{}, err
	}
	return entities.Credentials{LineChannelID: channelID, LineChannelSecret: secret}, nil
}

type twilioVariant struct{}

func (twilioVariant) Kind() string         { return entities.KindTwilio }
func (twilioVariant) Transport() Transport { return TransportAggregator }

// Twilio users are identified by their phone number, which the aggregator
// reports as the client display name.
func (twilioVariant) AvatarHint(client entities.ClientProfile) AvatarHint {
	return AvatarHint{Phone: client.DisplayName}
}

func (twilioVariant) BuildCredentials(props map[string]any) (entities.Credentials, error) {
	sid, err := requireProp(props, "accountSid")
	if err != nil {
		return entities.Credentials{}, err
	}
	authToken, err := requireProp(props, "authToken")
	if err != nil {
		return entities.Credentials{}, err
	}
	phoneSID, err := requireProp(props, "phoneNumberSid")
	if err != nil {
		return entities.Credentials{}, err
	}
	return entities.Credentials{TwilioSID: sid, TwilioAuthToken: authToken, TwilioPhoneSID: phoneSID}, nil
}

type whatsAppVariant struct{}

func (whatsAppVariant) Kind() string         { return entities.KindWhatsApp }
func (whatsAppVariant) Transport() Transport { return TransportDirect }

func (whatsAppVariant) AvatarHint(entities.ClientProfile) AvatarHint { return AvatarHint{} }

func (whatsAppVariant) BuildCredentials(props map[string]any) (entities.Credentials, error) {
	instanceID, err := requireProp(props, "instanceId")
	if err != nil {
		return entities.Credentials{}, err
	}
	token, err := requireProp(props, "token")
	if err != nil {
		return entities.Credentials{}, err
	}
	return entities.Credentials{
		WhatsAppInstanceIDs: []string{instanceID},
		WhatsAppTokens:      map[string]string{instanceID: token},
	}, nil
}

type whatsAppWebVariant struct{}

func (whatsAppWebVariant) Kind() string         { return entities.KindWhatsAppWeb }
func (whatsAppWebVariant) Transport() Transport { return TransportDevice }

func (whatsAppWebVariant) AvatarHint(entities.ClientProfile) AvatarHint { return AvatarHint{} }

func (whatsAppWebVariant) BuildCredentials(props map[string]any) (entities.Credentials, error) {
	instanceID, err := requireProp(props, "instanceId")
	if err != nil {
		return entities.Credentials{}, err
	}
	return entities.Credentials{WhatsAppInstanceIDs: []string{instanceID}}, nil
}

// stringProp reads a scalar prop as a string. JSON numbers are accepted since
// some dashboards send numeric channel ids.
func stringProp(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func requireProp(props map[string]any, key string) (string, error) {
	v := stringProp(props, key)
	if v == "" {
		return "", entities.NewValidationError(entities.CodeMalformedCredentials, "missing credential field %q", key)
	}
	return v, nil
}
