package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is a loosely typed object returned by the project directory.
// Top-level key order is preserved so field scans follow the order in which
// the directory serialized the record.
type Record struct {
	keys   []string
	fields map[string]any
}

// ParseRecord decodes a single JSON object into a Record.
func ParseRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// RecordFromMap builds a Record from a plain map. Keys are sorted since map
// iteration order carries no meaning.
func RecordFromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make(map[string]any, len(m))
	for k, v := range m {
		fields[k] = v
	}
	return Record{keys: keys, fields: fields}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	r.keys = nil
	r.fields = make(map[string]any)

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("contract record: expected JSON object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("contract record: unexpected key token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("contract record: field %q: %w", key, err)
		}
		if _, seen := r.fields[key]; !seen {
			r.keys = append(r.keys, key)
		}
		r.fields[key] = v
	}

	_, err = dec.Token()
	return err
}

// MarshalJSON implements json.Marshaler, keeping the input key order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.fields[k])
		if err != nil {
			return nil, fmt.Errorf("contract record: field %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Keys returns the top-level keys in document order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of top-level fields.
func (r Record) Len() int { return len(r.keys) }

// Get returns the raw value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// String returns the field as a trimmed string, or "" when it is absent or
// not scalar.
func (r Record) String(key string) string {
	return stringOf(r.fields[key])
}

// ID returns the record identifier as a string.
func (r Record) ID() string { return r.String("id") }

// Number returns the trimmed contract number.
func (r Record) Number() string { return r.String("number") }

// Title returns the trimmed title.
func (r Record) Title() string { return r.String("title") }

// Name returns the trimmed name.
func (r Record) Name() string { return r.String("name") }

// stringOf converts scalar JSON values to a trimmed string.
func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// nameOf returns the .name of an object value.
func nameOf(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	return stringOf(m["name"])
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}
