package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Log types produced by the ingestion pipeline.
const (
	LogTypeEvent         = "leaf.event"
	LogTypeStdout        = "leaf.stdout_stderr"
	LogTypeTraceback     = "leaf.traceback"
	LogTypeVassalReady   = "emperor_vassal_ready"
	LogTypeVassalRemoved = "emperor_vassal_removed"
)

// Event is one log record. Records are never mutated once dispatched;
// use Clone before changing a record someone else may hold.
type Event map[string]any

// String returns the string value stored under key, or "".
func (e Event) String(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (e Event) LogType() string   { return e.String("log_type") }
func (e Event) LogSource() string { return e.String("log_source") }

// Clone returns a shallow copy.
func (e Event) Clone() Event {
	out := make(Event, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Time returns the record timestamp, accepting both time.Time values and the
// RFC 3339 strings a record has after a JSON round trip.
func (e Event) Time() (time.Time, bool) {
	switch v := e["time"].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	}
	return time.Time{}, false
}

// Int returns the integer stored under key, converting numeric strings and
// JSON numbers.
func (e Event) Int(key string) (int, bool) {
	switch v := e[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	}
	return 0, false
}

// NewID returns a random 24 hex character identifier. Leaf ids must have this
// shape because the log prefix parser matches exactly 24 word characters.
func NewID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// IsID reports whether s has the NewID shape.
func IsID(s string) bool {
	if len(s) != 24 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
