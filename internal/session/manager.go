// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package session drives the login handshake and keeps track of open sessions.
//
// A session is identified by server URL, user and database. The first connection
// for a key authenticates with a password; any later connection for the same key
// resumes the stored session with get_connection instead of logging in again.
package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"remotesql/cli/internal/envelope"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/logging"
	"remotesql/cli/internal/transport"
)

// ClientName prefixes the client_version sent at login.
const ClientName = "remotesql-go"

// Credentials are what Connect needs to open a connection.
type Credentials struct {
	ServerURL string
	Username  string
	Database  string
	// Password is only needed when no session is stored for the key.
	// Connect zeroes it before returning.
	Password []byte
}

// Key returns the session key of the credentials.
func (c Credentials) Key() Key {
	return Key{
		ServerURL: strings.TrimRight(c.ServerURL, "/"),
		Username:  c.Username,
		Database:  c.Database,
	}
}

// Connection is a handle on one server-side connection within a session.
type Connection struct {
	Key          Key
	SessionID    string
	ConnectionID string
	// BaseURL prefixes every command URL of this connection and ends with a slash.
	BaseURL   string
	CreatedAt time.Time

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Manager opens, clones and ends connections.
type Manager struct {
	t             *transport.Transport
	store         Store
	l             *zap.Logger
	clientVersion string
}

// NewManager creates a Manager. version is reported to the server as
// client_version "remotesql-go/{version}".
func NewManager(t *transport.Transport, store Store, l *zap.Logger, version string) *Manager {
	if l == nil {
		l = zap.NewNop()
	}
	if store == nil {
		store = Default()
	}

	return &Manager{
		t:             t,
		store:         store,
		l:             l.Named("session"),
		clientVersion: ClientName + "/" + version,
	}
}

// Store returns the store the manager records sessions in.
func (m *Manager) Store() Store {
	return m.store
}

// Connect opens a connection, resuming the stored session for the key if there is one
// and logging in otherwise. A failed login stores nothing. A failed resume leaves the
// stored session untouched; callers that want to fall back to a fresh login call
// Forget first.
func (m *Manager) Connect(ctx context.Context, creds Credentials) (*Connection, error) {
	defer clear(creds.Password)

	key := creds.Key()
	if key.ServerURL == "" || key.Username == "" || key.Database == "" {
		return nil, rerrors.Precondition("server URL, username and database are required")
	}

	c := &Connection{Key: key, state: Unauthenticated}

	if sid, ok := m.store.SessionID(key); ok {
		return m.resume(ctx, c, sid)
	}

	if len(creds.Password) == 0 {
		return nil, rerrors.Precondition("password is required for %s", logging.Mask(key.String()))
	}
	return m.login(ctx, c, creds.Password)
}

// Clone opens another connection in the session of c.
// It never logs in again and yields a distinct connection id.
func (m *Manager) Clone(ctx context.Context, c *Connection) (*Connection, error) {
	if c == nil || c.SessionID == "" {
		return nil, rerrors.Precondition("connection has no session")
	}
	return m.resume(ctx, &Connection{Key: c.Key, state: Unauthenticated}, c.SessionID)
}

// Forget removes the stored session of key without contacting the server.
func (m *Manager) Forget(key Key) {
	m.store.Remove(key)
}

// Close releases the server-side connection. The session stays usable by other connections.
func (m *Manager) Close(ctx context.Context, c *Connection) error {
	if err := m.command(ctx, c, "close"); err != nil {
		return err
	}
	c.setState(Closed)
	return nil
}

// Logout ends the session on the server and removes it from the store.
// The store entry is removed even when the server call fails.
func (m *Manager) Logout(ctx context.Context, c *Connection) error {
	m.store.Remove(c.Key)
	err := m.command(ctx, c, "logout")
	c.setState(Closed)
	return err
}

func (m *Manager) login(ctx context.Context, c *Connection, password []byte) (*Connection, error) {
	m.transition(c, Authenticating)

	u := c.Key.ServerURL + "/database/" + url.PathEscape(c.Key.Database) +
		"/username/" + url.PathEscape(c.Key.Username) + "/login"

	var p transport.Params
	p.Set("password", string(password)).Set("client_version", m.clientVersion)

	a, err := m.post(ctx, u, p)
	if err != nil {
		return nil, m.fail(c, err)
	}

	sid, ok := a.Value(envelope.KeySessionID)
	if !ok || sid == "" {
		return nil, m.fail(c, contractViolation(a, envelope.KeySessionID))
	}
	cid, ok := a.Value(envelope.KeyConnectionID)
	if !ok || cid == "" {
		return nil, m.fail(c, contractViolation(a, envelope.KeyConnectionID))
	}

	m.store.SetSessionID(c.Key, sid)
	return m.activate(c, sid, cid), nil
}

func (m *Manager) resume(ctx context.Context, c *Connection, sid string) (*Connection, error) {
	m.transition(c, Resuming)

	u := c.Key.ServerURL + "/session/" + url.PathEscape(sid) + "/get_connection"

	text, err := m.t.GetString(ctx, u)
	if err != nil {
		return nil, m.fail(c, err)
	}
	a := envelope.New(text.Body, text.StatusCode, text.Status)
	if e := a.Err(); e != nil {
		return nil, m.fail(c, e)
	}

	cid, ok := a.Value(envelope.KeyConnectionID)
	if !ok || cid == "" {
		return nil, m.fail(c, contractViolation(a, envelope.KeyConnectionID))
	}

	return m.activate(c, sid, cid), nil
}

// command issues a no-result connection action.
func (m *Manager) command(ctx context.Context, c *Connection, action string) error {
	if c == nil || c.BaseURL == "" {
		return rerrors.Precondition("connection is not active")
	}
	_, err := m.post(ctx, c.BaseURL+action, transport.Params{})
	return err
}

func (m *Manager) post(ctx context.Context, u string, p transport.Params) (*envelope.Analyzer, error) {
	text, err := m.t.PostString(ctx, u, p)
	if err != nil {
		return nil, err
	}
	a := envelope.New(text.Body, text.StatusCode, text.Status)
	if e := a.Err(); e != nil {
		return nil, e
	}
	return a, nil
}

func (m *Manager) activate(c *Connection, sid, cid string) *Connection {
	c.SessionID = sid
	c.ConnectionID = cid
	c.BaseURL = c.Key.ServerURL + "/session/" + url.PathEscape(sid) + "/connection/" + url.PathEscape(cid) + "/"
	c.CreatedAt = time.Now()
	m.transition(c, Active)
	return c
}

func (m *Manager) transition(c *Connection, s State) {
	c.setState(s)
	m.l.Debug("Connection state",
		zap.Stringer("state", s), logging.URL(c.Key.ServerURL),
		zap.String("user", c.Key.Username), zap.String("database", c.Key.Database),
	)
}

func (m *Manager) fail(c *Connection, err error) error {
	m.transition(c, Failed)
	return rerrors.Normalize(err, rerrors.TransportFailure)
}

func contractViolation(a *envelope.Analyzer, key string) *rerrors.E {
	code, msg := a.HTTPStatus()
	e := rerrors.Newf(rerrors.ContractViolation, "response has no %s", key)
	e.HTTPStatus = code
	e.HTTPMessage = msg
	return e
}
