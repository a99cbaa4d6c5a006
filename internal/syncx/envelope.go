// Package syncx holds the sync-metadata helpers shared by the store and
// the sync engine: timestamp conversion and envelope extraction from the
// loosely-shaped JSON payloads the UI and the remote exchange.
package syncx

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// DayFormat is the calendar-date key used for period scans and streaks.
const DayFormat = "2006-01-02"

// Envelope contains the sync metadata extracted from a record payload.
type Envelope struct {
	ID          string
	UpdatedAtMs int64
	DateKey     string // YYYY-MM-DD for date-bearing entities, else ""
}

// GetString safely extracts a string value from a map.
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// ParseTimeToMs converts a timestamp to Unix milliseconds.
// Accepts RFC3339 (with or without fractional seconds) and numeric
// milliseconds as a string; returns false for anything else.
func ParseTimeToMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().UnixMilli(), true
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}

	return 0, false
}

// RFC3339 converts Unix milliseconds to an RFC3339 timestamp string.
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns the current Unix milliseconds timestamp (UTC).
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Extract parses the common sync envelope from a record payload.
// The id is required; a missing or unparseable updatedAt falls back to
// the current time so a malformed client write still sorts somewhere
// sane under last-writer-wins.
func Extract(item map[string]any) (Envelope, error) {
	var out Envelope

	id, _ := GetString(item, "id")
	if id == "" {
		return out, errors.New("missing or invalid id")
	}
	out.ID = id

	if s, ok := GetString(item, "updatedAt"); ok {
		if ms, ok2 := ParseTimeToMs(s); ok2 {
			out.UpdatedAtMs = ms
		}
	}
	if out.UpdatedAtMs == 0 {
		out.UpdatedAtMs = NowMs()
	}

	if d, ok := GetString(item, "date"); ok {
		out.DateKey = d
	} else if d, ok := GetString(item, "dueDate"); ok {
		out.DateKey = d
	}

	return out, nil
}

// ExtractBytes is Extract over raw JSON.
func ExtractBytes(payload []byte) (Envelope, map[string]any, error) {
	var item map[string]any
	if err := json.Unmarshal(payload, &item); err != nil {
		return Envelope{}, nil, err
	}
	env, err := Extract(item)
	return env, item, err
}
