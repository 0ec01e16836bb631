package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeCursor is the resume point of a newest-first listing: the order time and id of the last
// item served.
type timeCursor struct {
	At string `json:"t"`
	ID string `json:"id"`
}

// EncodeTimeCursor returns an opaque token resuming after the item (at, id).
func EncodeTimeCursor(at time.Time, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("pagination: cursor id is required")
	}
	raw, err := json.Marshal(timeCursor{At: at.UTC().Format(time.RFC3339Nano), ID: id})
	if err != nil {
		return "", fmt.Errorf("pagination: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeTimeCursor reverses EncodeTimeCursor. An empty token yields ok=false and no error.
func DecodeTimeCursor(token string) (at time.Time, id string, ok bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, "", false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var c timeCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if c.ID == "" {
		return time.Time{}, "", false, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	at, err = time.Parse(time.RFC3339Nano, c.At)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return at.UTC(), c.ID, true, nil
}
