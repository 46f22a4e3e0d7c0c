package recorder

import (
	"bytes"
	"encoding/json"
)

// Field is one key/value pair of an event. Events keep their fields as an
// ordered slice rather than a map: the JSONL log is a compatibility surface
// and deterministic runs must serialize byte-identically, so key order has to
// be insertion order, every time.
type Field struct {
	Key   string
	Value any
}

// F builds a Field. Callers pass fields in the order they should appear in
// the log line.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Event is one entry of the session ledger. Events are append-only: once
// emitted they are never mutated or removed.
type Event struct {
	fields []Field
}

// Set replaces the value of an existing key in place, or appends the key at
// the end. In-place replacement keeps override merges from reshuffling the
// serialized field order.
func (e *Event) Set(key string, value any) {
	for i := range e.fields {
		if e.fields[i].Key == key {
			e.fields[i].Value = value
			return
		}
	}
	e.fields = append(e.fields, Field{Key: key, Value: value})
}

// Get returns the value for key, if present.
func (e *Event) Get(key string) (any, bool) {
	for i := range e.fields {
		if e.fields[i].Key == key {
			return e.fields[i].Value, true
		}
	}
	return nil, false
}

// Type returns the event's type field, or "" if unset.
func (e *Event) Type() string {
	v, _ := e.Get("type")
	s, _ := v.(string)
	return s
}

// MarshalJSON serializes the event as a compact object with fields in
// insertion order.
func (e *Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
