// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Envelope keys.
const (
	KeyStatus        = "status"
	KeyErrorType     = "error_type"
	KeyErrorMessage  = "error_message"
	KeyStackTrace    = "stack_trace"
	KeyResult        = "result"
	KeyRowCount      = "row_count"
	KeySessionID     = "session_id"
	KeyConnectionID  = "connection_id"
	KeyOutParameters = "parameters_out_per_index"
)

// Status values.
const (
	StatusOK   = "OK"
	StatusFail = "FAIL"
)

// errKeyNotFound is returned by findKey when the top-level object ends without the key.
var errKeyNotFound = errors.New("key not found")

// newDecoder returns a decoder keeping numbers as their JSON text.
func newDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// openObject consumes the opening brace of the top-level object.
func openObject(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	return nil
}

// findKey advances dec, positioned inside an object, to the value of key.
// Values of other keys are skipped token by token without being materialized.
func findKey(dec *json.Decoder, key string) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if name == key {
			return nil
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	return errKeyNotFound
}

// skipValue consumes the next value, however deeply nested.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
		if depth == 0 {
			return nil
		}
	}
}

// scalar converts a raw JSON value into its text form.
// Strings are returned verbatim, numbers and booleans as their JSON text,
// objects and arrays as compact JSON. Null is reported as absent.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[':
		var b bytes.Buffer
		if err := json.Compact(&b, raw); err != nil {
			return "", false
		}
		return b.String(), true
	default:
		return string(raw), true
	}
}

// toInt parses an integer value, returning -1 when absent or not an integer.
func toInt(s string, ok bool) int {
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// readOutParameters reads the out-parameter object dec is positioned at.
// Every key must be a decimal parameter position.
func readOutParameters(dec *json.Decoder) (map[int]string, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%s: expected object, got %v", KeyOutParameters, tok)
	}

	res := map[int]string{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%s: non-numeric parameter index %q", KeyOutParameters, key)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		v, _ := scalar(raw)
		res[index] = v
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return res, nil
}
