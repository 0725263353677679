// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package session

import (
	"sync"
	"time"
)

// Key identifies a session by server, user and database.
type Key struct {
	ServerURL string
	Username  string
	Database  string
}

// String returns the store key "serverURL/username/database".
func (k Key) String() string {
	return k.ServerURL + "/" + k.Username + "/" + k.Database
}

// Entry is a stored session.
type Entry struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store maps keys to active session ids.
// Implementations must be safe for concurrent use.
type Store interface {
	IsLogged(key Key) bool
	SessionID(key Key) (string, bool)
	SetSessionID(key Key, id string)
	Remove(key Key)
	ResetAll()
}

// MemoryStore is a Store living in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]Entry{},
		now:     time.Now,
	}
}

var (
	// Process-wide store; cleared when the process exits.
	defaultStore     Store
	defaultStoreOnce sync.Once
)

// Default returns the process-wide store.
func Default() Store {
	defaultStoreOnce.Do(func() {
		defaultStore = NewMemoryStore()
	})
	return defaultStore
}

// IsLogged reports whether a session is stored for key.
func (s *MemoryStore) IsLogged(key Key) bool {
	_, ok := s.SessionID(key)
	return ok
}

// SessionID returns the session id stored for key.
func (s *MemoryStore) SessionID(key Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	return e.SessionID, ok
}

// SetSessionID stores id for key, replacing any previous session.
func (s *MemoryStore) SetSessionID(key Key, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = Entry{SessionID: id, CreatedAt: s.now()}
}

// Remove forgets the session of key.
func (s *MemoryStore) Remove(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
}

// ResetAll forgets every session.
func (s *MemoryStore) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = map[string]Entry{}
}

// Entries returns a copy of all stored entries by key string.
func (s *MemoryStore) Entries() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		res[k] = v
	}
	return res
}

// replace swaps all entries at once.
func (s *MemoryStore) replace(entries map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entries
}

// check interfaces
var (
	_ Store = (*MemoryStore)(nil)
)
