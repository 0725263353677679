// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package keychain

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManagerWithRing(keyring.NewArrayKeyring(nil))

	_, err := m.LoadSessions()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveSessions([]byte(`{"a":{"session_id":"s1"}}`)))

	data, err := m.LoadSessions()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"session_id":"s1"}}`, string(data))

	require.NoError(t, m.ClearSessions())
	require.NoError(t, m.ClearSessions())

	_, err = m.LoadSessions()
	assert.ErrorIs(t, err, ErrNotFound)
}
