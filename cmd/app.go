// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"remotesql/cli/internal/blob"
	"remotesql/cli/internal/command"
	"remotesql/cli/internal/config"
	"remotesql/cli/internal/dsn"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/keychain"
	"remotesql/cli/internal/logging"
	"remotesql/cli/internal/metrics"
	"remotesql/cli/internal/observability"
	"remotesql/cli/internal/session"
	"remotesql/cli/internal/terminal"
	"remotesql/cli/internal/transport"
)

// Environment variables read by the CLI itself.
const (
	// EnvPassword supplies the login password without a prompt.
	EnvPassword = "REMOTESQL_PASSWORD"
	// EnvDSN supplies a connection string, see package dsn.
	EnvDSN = "REMOTESQL_DSN"
)

// app holds the collaborators shared by all subcommands of one invocation.
type app struct {
	cfg       config.Config
	l         *zap.Logger
	metrics   *metrics.Collector
	registry  *prometheus.Registry
	transport *transport.Transport
	sessions  *session.Manager
	otel      observability.ShutdownFunc

	// dsnPassword is the password of the connection string, if any.
	dsnPassword string

	shutdownOnce sync.Once
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var dsnPassword string
	if s := valueOr(flagDSN, os.Getenv(EnvDSN)); s != "" {
		info, err := dsn.Parse(s)
		if err != nil {
			return nil, err
		}
		cfg.Server, cfg.Username, cfg.Database = info.Server, info.User, info.Database
		dsnPassword = info.Password
	}

	if flagServer != "" {
		cfg.Server = flagServer
	}
	if flagUser != "" {
		cfg.Username = flagUser
	}
	if flagDatabase != "" {
		cfg.Database = flagDatabase
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	l := logging.Setup(level, level <= zap.DebugLevel)

	m := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(m)

	shutdown, err := observability.SetupOtel("remotesql", Version, flagOTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("set up tracing: %w", err)
	}

	t := transport.New(cfg.TransportOptions("remotesql/"+Version), l, m)

	return &app{
		cfg:         cfg,
		l:           l,
		metrics:     m,
		registry:    registry,
		transport:   t,
		sessions:    session.NewManager(t, openStore(l), l, Version),
		otel:        shutdown,
		dsnPassword: dsnPassword,
	}, nil
}

// openStore returns the keychain-backed store, or the process-wide memory store
// when no keychain is available.
func openStore(l *zap.Logger) session.Store {
	km, err := keychain.GetManager()
	if err == nil {
		var s *session.KeychainStore
		if s, err = session.NewKeychainStore(km, l); err == nil {
			return s
		}
	}

	l.Warn("OS keychain unavailable, sessions will not outlive this process", zap.Error(err))
	return session.Default()
}

// shutdown flushes traces and prints metrics when asked to. It runs once.
func (a *app) shutdown(ctx context.Context) error {
	var err error
	a.shutdownOnce.Do(func() {
		if flagMetrics {
			err = metrics.Dump(os.Stderr, a.registry)
		}
		if a.otel != nil {
			err = errors.Join(err, a.otel(ctx))
		}
		_ = a.l.Sync()
	})
	return err
}

func (a *app) key() session.Key {
	return session.Credentials{ServerURL: a.cfg.Server, Username: a.cfg.Username, Database: a.cfg.Database}.Key()
}

// password returns REMOTESQL_PASSWORD, the connection string password, or prompts for it.
func (a *app) password() ([]byte, error) {
	if v := valueOr(os.Getenv(EnvPassword), a.dsnPassword); v != "" {
		return []byte(v), nil
	}

	prompt := fmt.Sprintf("Password for %s@%s: ", a.cfg.Username, a.cfg.Database)
	b, err := terminal.ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	if terminal.IsInteractive() {
		terminal.ClearPreviousLines(len(prompt))
	}
	return b, nil
}

// connect returns a connection on the stored session, logging in when there is
// none or when it can no longer be resumed. loggedIn reports a fresh login.
// With interactive false, a missing session is an error instead of a password prompt.
func (a *app) connect(ctx context.Context, interactive bool) (c *session.Connection, loggedIn bool, err error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, false, err
	}

	key := a.key()
	creds := session.Credentials{ServerURL: key.ServerURL, Username: key.Username, Database: key.Database}

	if a.sessions.Store().IsLogged(key) {
		c, err = a.sessions.Connect(ctx, creds)
		if err == nil {
			return c, false, nil
		}
		if !rerrors.IsKind(err, rerrors.ProtocolFailure) {
			return nil, false, err
		}

		a.l.Info("Stored session expired, logging in again", zap.Error(err))
		a.sessions.Forget(key)
	}

	if !interactive && os.Getenv(EnvPassword) == "" && a.dsnPassword == "" {
		return nil, false, fmt.Errorf("not logged in to %s; run 'remotesql login' first", logging.Mask(key.String()))
	}

	pw, err := a.password()
	if err != nil {
		return nil, false, err
	}
	creds.Password = pw

	stop := startInlineSpinner(os.Stderr, "Logging in", spinnerFrames, spinnerInterval)
	c, err = a.sessions.Connect(ctx, creds)
	stop()
	return c, err == nil, err
}

// dispatcher returns a dispatcher for c configured from the settings.
func (a *app) dispatcher(c *session.Connection, opts command.Options) *command.Dispatcher {
	opts.GzipResult = a.cfg.Gzip()

	return command.New(c, command.Deps{
		Transport: a.transport,
		Sessions:  a.sessions,
		Blobs:     blob.NewTransport(a.transport, a.l, a.metrics, a.cfg.MaxBlobBytes),
		Logger:    a.l,
		Metrics:   a.metrics,
	}, opts)
}

// release closes the connection, keeping the session for the next invocation.
func release(ctx context.Context, d *command.Dispatcher) {
	if err := d.Close(context.WithoutCancel(ctx)); err != nil {
		current.l.Warn("Failed to close connection", zap.Error(err))
	}
}
