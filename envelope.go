package offlinecache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// envelopeVersion is bumped whenever the stored layout changes; older
// envelopes decode as corrupt and get dropped.
const envelopeVersion = 1

// maxKeyLength bounds keys so every backend can hold them.
const maxKeyLength = 512

// Meta classifies an entry at write time.
type Meta struct {
	DataType string // payload category, e.g. "reservations"
	OwnerID  string // user or session the entry belongs to
}

// Entry is a decoded cache entry.
type Entry struct {
	Key      string
	Value    json.RawMessage
	StoredAt time.Time
	DataType string
	OwnerID  string
}

type envelope struct {
	V        int             `json:"v"`
	Key      string          `json:"key"`
	StoredAt time.Time       `json:"stored_at"`
	DataType string          `json:"data_type,omitempty"`
	OwnerID  string          `json:"owner_id,omitempty"`
	Value    json.RawMessage `json:"value"`
}

// encodeEntry produces the stored representation of e.
func encodeEntry(e Entry) ([]byte, error) {
	data, err := json.Marshal(envelope{
		V:        envelopeVersion,
		Key:      e.Key,
		StoredAt: e.StoredAt.UTC(),
		DataType: e.DataType,
		OwnerID:  e.OwnerID,
		Value:    e.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return data, nil
}

// decodeEntry parses and validates a stored envelope for key.
// Any shape problem is reported as ErrCorruptEntry.
func decodeEntry(key string, data []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	switch {
	case env.V != envelopeVersion:
		return Entry{}, fmt.Errorf("%w: version %d", ErrCorruptEntry, env.V)
	case env.Key != key:
		return Entry{}, fmt.Errorf("%w: stored under %q", ErrCorruptEntry, env.Key)
	case env.StoredAt.IsZero():
		return Entry{}, fmt.Errorf("%w: missing stored_at", ErrCorruptEntry)
	case len(env.Value) == 0:
		return Entry{}, fmt.Errorf("%w: missing value", ErrCorruptEntry)
	}
	return Entry{
		Key:      env.Key,
		Value:    env.Value,
		StoredAt: env.StoredAt,
		DataType: env.DataType,
		OwnerID:  env.OwnerID,
	}, nil
}

// EstimateSize returns the approximate stored size of v in bytes.
func EstimateSize(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("estimate size: %w", err)
	}
	return len(b), nil
}

var keySegment = strings.NewReplacer("%", "%25", ":", "%3A")

// Key builds a namespaced cache key: dataType:ownerID[:part...].
// Every segment keeps its position, empty ones included, and ':' inside a
// segment is escaped, so distinct inputs never share a key.
func Key(dataType, ownerID string, parts ...string) string {
	segs := make([]string, 0, len(parts)+2)
	for _, s := range append([]string{dataType, ownerID}, parts...) {
		segs = append(segs, keySegment.Replace(s))
	}
	return strings.Join(segs, ":")
}

func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > maxKeyLength:
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidKey, len(key), maxKeyLength)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: contains null byte", ErrInvalidKey)
	}
	return nil
}
