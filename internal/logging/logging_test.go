// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{input: "", want: zapcore.InfoLevel},
		{input: "debug", want: zapcore.DebugLevel},
		{input: " WARN ", want: zapcore.WarnLevel},
		{input: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPresentErrorPlain(t *testing.T) {
	assert.Equal(t, "", PresentError("login", nil))
	assert.Equal(t, "login: bad password=***", PresentError("login", errString("bad password=abc")))
	assert.Equal(t, "bad password=***", PresentError("", errString("bad password=abc")))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestURLField(t *testing.T) {
	f := URL("https://h/session/abcdefgh/connection/1/commit")
	assert.Equal(t, "url", f.Key)
	assert.Equal(t, "https://h/session/abcd***/connection/1/commit", f.String)
}
