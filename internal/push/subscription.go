package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"board/api/internal/store"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidSubscription is returned for registrations that are not a
// browser PushSubscription.
var ErrInvalidSubscription = errors.New("invalid push subscription")

const subscriptionSchemaURL = "https://board.local/schemas/push-subscription.json"

const subscriptionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["endpoint", "keys"],
  "properties": {
    "endpoint": {"type": "string", "pattern": "^https://[^\\s]+$"},
    "expirationTime": {"type": ["number", "null"]},
    "keys": {
      "type": "object",
      "required": ["auth", "p256dh"],
      "properties": {
        "auth": {"type": "string", "minLength": 1},
        "p256dh": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var subscriptionSchema = jsonschema.MustCompileString(subscriptionSchemaURL, subscriptionSchemaJSON)

type rawSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		Auth   string `json:"auth"`
		P256dh string `json:"p256dh"`
	} `json:"keys"`
}

// ParseSubscription validates a PushSubscription as serialized by the
// browser and returns the stored form.
func ParseSubscription(data []byte) (store.PushSubscription, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return store.PushSubscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	if err := subscriptionSchema.Validate(doc); err != nil {
		return store.PushSubscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	var raw rawSubscription
	if err := json.Unmarshal(data, &raw); err != nil {
		return store.PushSubscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	return store.PushSubscription{
		Endpoint: raw.Endpoint,
		Auth:     strings.TrimSpace(raw.Keys.Auth),
		P256dh:   strings.TrimSpace(raw.Keys.P256dh),
	}, nil
}
