package scroll

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stacklok/scroll-sync-server/internal/session"
)

// ErrInvalidUpdate is returned when an update payload cannot be parsed
var ErrInvalidUpdate = errors.New("invalid update")

// Update is an inbound message from a client window.
// Payload holds the compacted request body and is what gets broadcast.
type Update struct {
	ClientID string
	Position *float64
	Main     *string
	Payload  json.RawMessage

	// extra is set when the payload carries any field besides clientID
	extra bool
}

// ParseUpdate decodes a client update. clientID must be a non-empty string, position a
// number and main a string or null when present. Unknown fields are kept in Payload.
func ParseUpdate(body []byte) (Update, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Update{}, fmt.Errorf("%w: body must be a JSON object", ErrInvalidUpdate)
	}

	var u Update
	if raw, ok := fields["clientID"]; ok {
		if err := json.Unmarshal(raw, &u.ClientID); err != nil {
			return Update{}, fmt.Errorf("%w: clientID must be a string", ErrInvalidUpdate)
		}
	}
	if u.ClientID == "" {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidUpdate, session.ErrMissingClientID)
	}

	if raw, ok := fields["position"]; ok {
		if err := json.Unmarshal(raw, &u.Position); err != nil {
			return Update{}, fmt.Errorf("%w: position must be a number", ErrInvalidUpdate)
		}
	}

	if raw, ok := fields["main"]; ok {
		if err := json.Unmarshal(raw, &u.Main); err != nil {
			return Update{}, fmt.Errorf("%w: main must be a string or null", ErrInvalidUpdate)
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}

	u.Payload = compact.Bytes()
	u.extra = len(fields) > 1
	return u, nil
}

// IsHeartbeat reports whether the update carries nothing but the client id
func (u Update) IsHeartbeat() bool {
	return !u.extra
}

// TransferTarget returns the client id named by a non-empty main field
func (u Update) TransferTarget() (string, bool) {
	if u.Main == nil || *u.Main == "" {
		return "", false
	}
	return *u.Main, true
}
