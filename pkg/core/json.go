package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONEncode encodes a value to JSON bytes (fail-fast).
// HTML characters are left unescaped so log payloads stay byte-for-byte readable.
func JSONEncode(v interface{}) ([]byte, error) {
	// Fail-fast: validate input
	if v == nil {
		return nil, &Error{Code: CodeInvalidInput, Op: "json encode", Err: errors.New("cannot encode nil value")}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode failed: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// JSONDecode decodes JSON bytes to a value (fail-fast).
// Numbers decode as json.Number so integer fields survive a round trip.
func JSONDecode(data []byte, v interface{}) error {
	// Fail-fast: validate inputs
	if len(data) == 0 {
		return &Error{Code: CodeInvalidInput, Op: "json decode", Err: errors.New("cannot decode empty data")}
	}
	if v == nil {
		return &Error{Code: CodeInvalidInput, Op: "json decode", Err: errors.New("cannot decode into nil value")}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("json decode failed: %w", err)
	}
	return nil
}
