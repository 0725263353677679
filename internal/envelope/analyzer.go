// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package envelope interprets the JSON status envelope wrapping every server response.
//
// The envelope is read field by field since its shape differs per action.
// Parse problems never surface from IsOK. They are kept for diagnostics and turn
// into a synthesized HTTP failure.
package envelope

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	rerrors "remotesql/cli/internal/errors"
)

// source positions a decoder at the value of a top-level key.
type source interface {
	seek(key string) (*json.Decoder, error)
}

// Analyzer answers questions about one response.
// It is not safe for concurrent use.
type Analyzer struct {
	src           source
	statusCode    int
	statusMessage string
	parseErr      error
}

// New returns an analyzer over a fully read response body.
func New(body string, statusCode int, statusMessage string) *Analyzer {
	a := &Analyzer{statusCode: statusCode, statusMessage: statusMessage}

	if strings.TrimSpace(body) == "" {
		a.parseErr = errors.New("empty response body")
		a.src = bufferSource(nil)
		return a
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		a.parseErr = fmt.Errorf("invalid status envelope: %w", err)
	}
	a.src = bufferSource(fields)
	return a
}

// NewStream returns an analyzer over a possibly large response held in src.
// Every query rewinds src and scans forward only until the requested key is found,
// so memory use does not depend on the payload size.
func NewStream(src io.ReadSeeker, statusCode int, statusMessage string) *Analyzer {
	return &Analyzer{
		src:           &streamSource{r: src},
		statusCode:    statusCode,
		statusMessage: statusMessage,
	}
}

// raw returns the raw value of key, recording structural errors.
func (a *Analyzer) raw(key string) (json.RawMessage, bool) {
	if a.parseErr != nil {
		return nil, false
	}

	dec, err := a.src.seek(key)
	if err != nil {
		if !errors.Is(err, errKeyNotFound) {
			a.parseErr = err
		}
		return nil, false
	}

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		a.parseErr = fmt.Errorf("%s: %w", key, err)
		return nil, false
	}
	return raw, true
}

// status returns the status string. A status that is not a JSON string is not a status.
func (a *Analyzer) status() (string, bool) {
	raw, ok := a.raw(KeyStatus)
	if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.TrimSpace(raw)[0] != '"' {
		return "", false
	}
	return scalar(raw)
}

// synthesized reports whether no usable envelope could be read.
func (a *Analyzer) synthesized() bool {
	_, ok := a.status()
	return !ok
}

// IsOK reports whether the envelope status is OK.
// It returns false for empty or malformed bodies and for a missing status.
func (a *Analyzer) IsOK() bool {
	s, ok := a.status()
	return ok && s == StatusOK
}

// ErrorType returns the server error type, TypeHTTP when no envelope could be read,
// or TypeUnspecified when the server did not send one.
func (a *Analyzer) ErrorType() int {
	if a.synthesized() {
		return rerrors.TypeHTTP
	}
	if n := a.IntValue(KeyErrorType); n >= 0 {
		return n
	}
	return rerrors.TypeUnspecified
}

// ErrorMessage returns the server error message, or "HTTP FAILURE {code} ({message})"
// when no envelope could be read.
func (a *Analyzer) ErrorMessage() string {
	if a.synthesized() {
		return fmt.Sprintf("HTTP FAILURE %d (%s)", a.statusCode, a.statusMessage)
	}
	s, _ := a.Value(KeyErrorMessage)
	return s
}

// StackTrace returns the server-side stack trace, if any.
func (a *Analyzer) StackTrace() string {
	s, _ := a.Value(KeyStackTrace)
	return s
}

// Value returns the text form of a top-level value. Null values are absent.
func (a *Analyzer) Value(key string) (string, bool) {
	raw, ok := a.raw(key)
	if !ok {
		return "", false
	}
	return scalar(raw)
}

// IntValue returns a top-level integer value, or -1 if it is absent or not an integer.
func (a *Analyzer) IntValue(key string) int {
	return toInt(a.Value(key))
}

// Result returns the "result" value.
func (a *Analyzer) Result() (string, bool) {
	return a.Value(KeyResult)
}

// RowCount returns the "row_count" value, or -1.
func (a *Analyzer) RowCount() int {
	return a.IntValue(KeyRowCount)
}

// OutParametersByIndex returns the stored-procedure out parameters keyed by their
// position. It returns nil without error when the envelope has none, and a contract
// violation when a key is not a number.
func (a *Analyzer) OutParametersByIndex() (map[int]string, error) {
	if a.parseErr != nil {
		return nil, nil
	}

	dec, err := a.src.seek(KeyOutParameters)
	if errors.Is(err, errKeyNotFound) {
		return nil, nil
	}
	if err == nil {
		var res map[int]string
		if res, err = readOutParameters(dec); err == nil {
			return res, nil
		}
	}

	e := rerrors.Wrap(rerrors.ContractViolation, "malformed out parameters: "+err.Error(), err)
	e.HTTPStatus = a.statusCode
	e.HTTPMessage = a.statusMessage
	return nil, e
}

// HTTPStatus returns the status code and reason phrase the response arrived with.
func (a *Analyzer) HTTPStatus() (int, string) {
	return a.statusCode, a.statusMessage
}

// ParseError returns the first structural problem met while reading the body, if any.
func (a *Analyzer) ParseError() error {
	return a.parseErr
}

// Err returns the failure record for a non-OK envelope, or nil.
func (a *Analyzer) Err() *rerrors.E {
	if a.IsOK() {
		return nil
	}

	if a.synthesized() {
		e := rerrors.HTTP(a.statusCode, a.statusMessage)
		if a.parseErr != nil {
			e.Cause = a.parseErr.Error()
		}
		return e
	}

	return rerrors.Protocol(a.ErrorType(), a.ErrorMessage(), a.StackTrace(), a.statusCode, a.statusMessage)
}

// bufferSource serves keys of an already decoded top-level object.
type bufferSource map[string]json.RawMessage

func (s bufferSource) seek(key string) (*json.Decoder, error) {
	raw, ok := s[key]
	if !ok {
		return nil, errKeyNotFound
	}
	return newDecoder(bytes.NewReader(raw)), nil
}

// streamSource rescans a seekable body for every key.
type streamSource struct {
	r io.ReadSeeker
}

func (s *streamSource) seek(key string) (*json.Decoder, error) {
	if _, err := s.r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}

	dec := newDecoder(bufio.NewReader(s.r))
	if err := openObject(dec); err != nil {
		return nil, fmt.Errorf("invalid status envelope: %w", err)
	}
	if err := findKey(dec, key); err != nil {
		if errors.Is(err, errKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid status envelope: %w", err)
	}
	return dec, nil
}

// check interfaces
var (
	_ source = bufferSource(nil)
	_ source = (*streamSource)(nil)
)
