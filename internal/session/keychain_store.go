// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"remotesql/cli/internal/keychain"
)

// Secrets persists the serialized session map. *keychain.Manager implements it.
type Secrets interface {
	LoadSessions() ([]byte, error)
	SaveSessions(data []byte) error
	ClearSessions() error
}

// KeychainStore is a Store that writes every change through to the OS keychain,
// so a session opened by one process can be resumed by the next one.
// Persistence failures are logged; the in-memory view stays authoritative.
type KeychainStore struct {
	*MemoryStore

	persistMu sync.Mutex
	secrets   Secrets
	l         *zap.Logger
}

// NewKeychainStore loads previously persisted sessions from secrets.
func NewKeychainStore(secrets Secrets, l *zap.Logger) (*KeychainStore, error) {
	if l == nil {
		l = zap.NewNop()
	}

	s := &KeychainStore{
		MemoryStore: NewMemoryStore(),
		secrets:     secrets,
		l:           l,
	}

	data, err := secrets.LoadSessions()
	switch {
	case errors.Is(err, keychain.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		// Unreadable state is dropped; the next login stores a fresh map.
		l.Warn("Discarding unreadable session store", zap.Error(err))
		return s, nil
	}
	if entries == nil {
		// a persisted JSON null
		entries = map[string]Entry{}
	}
	s.replace(entries)

	return s, nil
}

// SetSessionID implements Store.
func (s *KeychainStore) SetSessionID(key Key, id string) {
	s.MemoryStore.SetSessionID(key, id)
	s.persist()
}

// Remove implements Store.
func (s *KeychainStore) Remove(key Key) {
	s.MemoryStore.Remove(key)
	s.persist()
}

// ResetAll implements Store.
func (s *KeychainStore) ResetAll() {
	s.MemoryStore.ResetAll()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.secrets.ClearSessions(); err != nil {
		s.l.Warn("Failed to clear persisted sessions", zap.Error(err))
	}
}

func (s *KeychainStore) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	entries := s.Entries()
	if len(entries) == 0 {
		if err := s.secrets.ClearSessions(); err != nil {
			s.l.Warn("Failed to clear persisted sessions", zap.Error(err))
		}
		return
	}

	data, err := json.Marshal(entries)
	if err != nil {
		s.l.Warn("Failed to encode sessions", zap.Error(err))
		return
	}
	if err := s.secrets.SaveSessions(data); err != nil {
		s.l.Warn("Failed to persist sessions", zap.Error(err))
	}
}

// check interfaces
var (
	_ Store   = (*KeychainStore)(nil)
	_ Secrets = (*keychain.Manager)(nil)
)
