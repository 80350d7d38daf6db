package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidRecord = errors.New("invalid profile record")
	// wraps ErrInvalidRecord, so callers checking for either will match
	ErrInvalidTimestamp = fmt.Errorf("%w: invalid timestamp", ErrInvalidRecord)
)

// counts are narrowed to float32 for the classifier; anything larger can't be represented
const maxCount = math.MaxFloat32

// Account profile, decoded and validated from the JSON account export.
//
// Fields which are absent (or null) in the export take the documented default: empty strings, zero counts, false flags, and nil timestamps (which feature extraction treats as "now").
type Record struct {
	Identity Identity

	// account handle ("usr")
	ScreenName string
	// display name ("usrDn")
	Name string
	// profile description text ("usrDes")
	Description string

	// "usrCreated"
	CreatedAt *time.Time
	// timestamp of most recent post ("usrLastTweetDate")
	LastActivityAt *time.Time

	StatusesCount  float64
	FollowersCount float64
	FriendsCount   float64
	ListedCount    float64

	Verified bool
	// only presence matters: whether the description carries any links
	HasDescriptionLinks bool
	// only presence matters: whether any location is set
	HasLocation bool
}

// wire format of the account export. every field is kept raw so that type checks and defaults happen in one place.
type rawRecord struct {
	ScreenName       json.RawMessage `json:"usr"`
	Name             json.RawMessage `json:"usrDn"`
	Description      json.RawMessage `json:"usrDes"`
	Created          json.RawMessage `json:"usrCreated"`
	LastTweetDate    json.RawMessage `json:"usrLastTweetDate"`
	StatusesCount    json.RawMessage `json:"usrStatusesCount"`
	FollowersCount   json.RawMessage `json:"usrFollowersCount"`
	FriendsCount     json.RawMessage `json:"usrFriendsCount"`
	ListedCount      json.RawMessage `json:"usrListedCount"`
	Verified         json.RawMessage `json:"usrVerified"`
	DescriptionLinks json.RawMessage `json:"usrDesLinks"`
	Location         json.RawMessage `json:"usrLocation"`
}

// Parses and validates a single account export record (a JSON object).
//
// All errors wrap [ErrInvalidRecord].
func Decode(raw []byte) (*Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: record must be a JSON object", ErrInvalidRecord)
	}
	var wire rawRecord
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	rec := Record{
		Identity:            IdentityFromJSON(trimmed),
		Verified:            truthy(wire.Verified),
		HasDescriptionLinks: truthy(wire.DescriptionLinks),
		HasLocation:         truthy(wire.Location),
	}

	var err error
	if rec.ScreenName, err = decodeString("usr", wire.ScreenName); err != nil {
		return nil, err
	}
	if rec.Name, err = decodeString("usrDn", wire.Name); err != nil {
		return nil, err
	}
	if rec.Description, err = decodeString("usrDes", wire.Description); err != nil {
		return nil, err
	}

	if rec.CreatedAt, err = decodeTimestamp("usrCreated", wire.Created); err != nil {
		return nil, err
	}
	if rec.LastActivityAt, err = decodeTimestamp("usrLastTweetDate", wire.LastTweetDate); err != nil {
		return nil, err
	}

	counts := []struct {
		field string
		raw   json.RawMessage
		dst   *float64
	}{
		{"usrStatusesCount", wire.StatusesCount, &rec.StatusesCount},
		{"usrFollowersCount", wire.FollowersCount, &rec.FollowersCount},
		{"usrFriendsCount", wire.FriendsCount, &rec.FriendsCount},
		{"usrListedCount", wire.ListedCount, &rec.ListedCount},
	}
	for _, c := range counts {
		if *c.dst, err = decodeCount(c.field, c.raw); err != nil {
			return nil, err
		}
	}

	return &rec, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(field string, raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: field %s must be a string", ErrInvalidRecord, field)
	}
	return s, nil
}

func decodeCount(field string, raw json.RawMessage) (float64, error) {
	if isNull(raw) {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: field %s must be a number", ErrInvalidRecord, field)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: field %s must not be negative (%v)", ErrInvalidRecord, field, n)
	}
	if n > maxCount {
		return 0, fmt.Errorf("%w: field %s out of range (%v)", ErrInvalidRecord, field, n)
	}
	return n, nil
}

func decodeTimestamp(field string, raw json.RawMessage) (*time.Time, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: field %s must be a string", ErrInvalidTimestamp, field)
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return &t, nil
}

// JSON truthiness: null, false, 0, "", [] and {} are all false.
func truthy(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return v != nil
}
