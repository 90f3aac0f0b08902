// Package format renders records into the lines written to output files.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fluxorio/fluxsink/pkg/core"
)

// Record is one event handed to the sink.
type Record struct {
	Time   time.Time
	Tag    string
	Fields Fields
}

// Field is a single key/value pair of a record.
type Field struct {
	Key   string
	Value interface{}
}

// Fields is an ordered record body. It marshals as a JSON object with keys in
// insertion order.
type Fields []Field

// F builds Fields from alternating keys and values.
func F(kv ...interface{}) Fields {
	out := make(Fields, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, Field{Key: fmt.Sprint(kv[i]), Value: kv[i+1]})
	}
	return out
}

// Get returns the first value stored under key.
func (f Fields) Get(key string) (interface{}, bool) {
	for _, fld := range f {
		if fld.Key == key {
			return fld.Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := core.JSONEncode(fld.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if fld.Value == nil {
			buf.WriteString("null")
			continue
		}
		v, err := core.JSONEncode(fld.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fld.Key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping key order. Nested
// objects decode as Fields as well.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("record must be a JSON object")
	}
	out := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

func decodeValue(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var nested Fields
		if err := nested.UnmarshalJSON(trimmed); err != nil {
			return nil, err
		}
		return nested, nil
	}
	var v interface{}
	if err := core.JSONDecode(trimmed, &v); err != nil {
		return nil, err
	}
	return v, nil
}
