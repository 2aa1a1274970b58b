package record

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidemark-io/tidemark/internal/core/period"
)

// Reserved field names. FieldID and FieldTimestamp may be supplied by clients;
// FieldUpdatedAt is stamped by the storage engine on every save and never
// accepted from a client.
const (
	FieldID        = "_id"
	FieldTimestamp = "_timestamp"
	FieldUpdatedAt = "_updatedAt"
)

// Record is a mapping of field name to scalar value plus the reserved fields.
type Record map[string]any

var keyPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// clientReserved are the underscore-prefixed keys a client is allowed to set.
var clientReserved = map[string]bool{
	FieldID:        true,
	FieldTimestamp: true,
}

// ValidKey reports whether k is acceptable on an incoming record: either a
// permitted reserved key or a plain lowercase identifier with no leading
// underscore.
func ValidKey(k string) bool {
	if strings.HasPrefix(k, "_") {
		return clientReserved[k]
	}
	return keyPattern.MatchString(k)
}

// ID returns the record's _id, if present and a string.
func (r Record) ID() (string, bool) {
	v, ok := r[FieldID].(string)
	return v, ok && v != ""
}

// Timestamp returns the record's _timestamp, if present and already decoded.
func (r Record) Timestamp() (time.Time, bool) {
	t, ok := r[FieldTimestamp].(time.Time)
	return t, ok
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// timestampLayouts are the accepted _timestamp formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp decodes a _timestamp value into a UTC time.Time. Accepts a
// time.Time as-is (normalized to UTC) or a string in one of the supported
// layouts.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", t)
	default:
		return time.Time{}, fmt.Errorf("timestamp must be a string or time, got %T", v)
	}
}

// StampPeriods derives one period-start metadata key per tracked period from
// the record's _timestamp. No-op when _timestamp is absent. Start values are
// stored as RFC3339 UTC strings.
func (r Record) StampPeriods() {
	ts, ok := r.Timestamp()
	if !ok {
		return
	}
	for _, p := range period.All {
		r[p.StartKey()] = p.Start(ts).Format(time.RFC3339)
	}
}

// DecodeTimes re-hydrates time-valued fields after a round trip through a
// backend's JSON representation: _timestamp and _updatedAt come back as
// strings and are decoded to UTC time.Time values.
func (r Record) DecodeTimes() error {
	for _, key := range []string{FieldTimestamp, FieldUpdatedAt} {
		v, ok := r[key]
		if !ok {
			continue
		}
		if _, isTime := v.(time.Time); isTime {
			continue
		}
		t, err := ParseTimestamp(v)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", key, err)
		}
		r[key] = t
	}
	return nil
}
