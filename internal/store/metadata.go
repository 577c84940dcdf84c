package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is a schemaless bag of attributes stored as a JSON object.
type Metadata map[string]any

// Merge returns m overlaid with incoming. Incoming keys win; an empty
// incoming map leaves m untouched.
func (m Metadata) Merge(incoming Metadata) Metadata {
	if len(incoming) == 0 {
		return m
	}
	out := make(Metadata, len(m)+len(incoming))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// String returns the value at key if it is a string.
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("scan metadata: %w", err)
		}
	}
	*m = out
	return nil
}
