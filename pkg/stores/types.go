package stores

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	fieldID        = "id"
	fieldTimestamp = "timestamp"
)

// HistoryItem is a single history entry. ID and Timestamp are owned by the
// store; everything else is caller payload and is kept verbatim.
type HistoryItem struct {
	ID        string `json:"id" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"` // Unix milliseconds

	// Fields holds every other JSON member of the item (prompt, image data, ...).
	Fields map[string]json.RawMessage `json:"-" validate:"-"`
}

// NewHistoryItem creates an item stamped with the given time.
func NewHistoryItem(id string, at time.Time) HistoryItem {
	return HistoryItem{
		ID:        id,
		Timestamp: at.UnixMilli(),
	}
}

// Time returns the item timestamp as a time.Time.
func (h HistoryItem) Time() time.Time {
	return time.UnixMilli(h.Timestamp)
}

// SetField stores a payload field, encoding value as JSON.
func (h *HistoryItem) SetField(name string, value interface{}) error {
	if name == fieldID || name == fieldTimestamp {
		return fmt.Errorf("field %q is reserved", name)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", name, err)
	}
	if h.Fields == nil {
		h.Fields = make(map[string]json.RawMessage)
	}
	h.Fields[name] = data
	return nil
}

// Field decodes a payload field into dst. It reports false if the field is absent.
func (h HistoryItem) Field(name string, dst interface{}) (bool, error) {
	raw, ok := h.Fields[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("failed to decode field %s: %w", name, err)
	}
	return true, nil
}

// MarshalJSON flattens the payload fields next to id and timestamp.
func (h HistoryItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(h.Fields)+2)
	for k, v := range h.Fields {
		out[k] = v
	}

	id, err := json.Marshal(h.ID)
	if err != nil {
		return nil, err
	}
	out[fieldID] = id
	out[fieldTimestamp] = json.RawMessage(fmt.Sprintf("%d", h.Timestamp))

	return json.Marshal(out)
}

// UnmarshalJSON splits a flat JSON object into id, timestamp and payload fields.
func (h *HistoryItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	item := HistoryItem{}
	if v, ok := raw[fieldID]; ok {
		if err := json.Unmarshal(v, &item.ID); err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		delete(raw, fieldID)
	}
	if v, ok := raw[fieldTimestamp]; ok {
		var ts json.Number
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&ts); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		n, err := ts.Int64()
		if err != nil {
			// Browsers may hand us fractional milliseconds.
			f, ferr := ts.Float64()
			if ferr != nil {
				return fmt.Errorf("invalid timestamp: %w", err)
			}
			n = int64(f)
		}
		item.Timestamp = n
		delete(raw, fieldTimestamp)
	}
	if len(raw) > 0 {
		item.Fields = raw
	}

	*h = item
	return nil
}

// HistoryStore defines the interface for the history persistence layer
type HistoryStore interface {
	// Lifecycle
	Init(ctx context.Context) (*sql.DB, error)
	Close() error
	SchemaVersion(ctx context.Context) (uint, bool, error)

	// History operations
	Save(ctx context.Context, item HistoryItem) error
	List(ctx context.Context) ([]HistoryItem, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Trim(ctx context.Context, maxCount int) (int, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ HistoryStore = (*SQLiteStore)(nil)
