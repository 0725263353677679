// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package command turns remote SQL operations into server actions on one connection.
//
// Every operation is one HTTP call against the connection base URL. Commands
// without a result only check the status envelope, scalar commands return the
// parsed "result" value, and query commands hand back the raw response stream
// without interpreting rows. Operations on one Dispatcher are serialized.
package command

import (
	"context"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel"
	otelattribute "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"remotesql/cli/internal/blob"
	"remotesql/cli/internal/envelope"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/metrics"
	"remotesql/cli/internal/session"
	"remotesql/cli/internal/transport"
)

// TracerName is the instrumentation name of dispatcher spans.
const TracerName = "remotesql/cli/internal/command"

// Options tune result requests.
type Options struct {
	// GzipResult asks the server to compress query results; they are decompressed transparently.
	GzipResult            bool
	PrettyPrinting        bool
	FillResultSetMetaData bool
	// MaxRows limits query results; 0 means no limit.
	MaxRows int
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Transport *transport.Transport
	Sessions  *session.Manager
	// Blobs defaults to the multipart blob transport.
	Blobs   blob.Mover
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Tracer defaults to the global tracer provider.
	Tracer oteltrace.Tracer
}

// Dispatcher issues commands on one connection.
type Dispatcher struct {
	conn *session.Connection
	deps Deps
	opts Options
	l    *zap.Logger

	mu sync.Mutex
}

// New returns a dispatcher for an active connection.
func New(conn *session.Connection, deps Deps, opts Options) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Blobs == nil {
		deps.Blobs = blob.NewTransport(deps.Transport, deps.Logger, deps.Metrics, 0)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(TracerName)
	}

	return &Dispatcher{
		conn: conn,
		deps: deps,
		opts: opts,
		l:    deps.Logger.Named("command").With(zap.String("connection_id", conn.ConnectionID)),
	}
}

// Connection returns the connection commands are issued on.
func (d *Dispatcher) Connection() *session.Connection {
	return d.conn
}

// run executes fn as action inside a span, serialized with other commands,
// and records its outcome.
func (d *Dispatcher) run(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, span := d.deps.Tracer.Start(ctx, "remotesql."+action,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			otelattribute.String("remotesql.action", action),
			otelattribute.String("remotesql.connection_id", d.conn.ConnectionID),
		),
	)
	defer span.End()

	var e *rerrors.E
	if err := fn(ctx); err != nil {
		e = rerrors.Normalize(err, rerrors.TransportFailure)
	}

	if e != nil {
		span.SetAttributes(
			otelattribute.String("remotesql.error_kind", string(e.Kind)),
			otelattribute.Int("remotesql.error_type", e.Type),
		)
		span.SetStatus(otelcodes.Error, e.Message)
		d.deps.Metrics.ObserveCommand(action, e)
		d.l.Debug("Command failed", zap.String("action", action), zap.Error(e))
		return e
	}

	span.SetStatus(otelcodes.Ok, "")
	d.deps.Metrics.ObserveCommand(action, nil)
	d.l.Debug("Command", zap.String("action", action))
	return nil
}

// actionURL returns the URL of action, with an optional single path parameter.
func (d *Dispatcher) actionURL(action, param string) string {
	u := d.conn.BaseURL + action
	if param != "" {
		u += "/" + url.PathEscape(param)
	}
	return u
}

// call posts an action and returns the analyzer of an OK envelope.
func (d *Dispatcher) call(ctx context.Context, action, param string, p transport.Params) (*envelope.Analyzer, error) {
	if d.conn.State() != session.Active {
		return nil, rerrors.Precondition("connection is %s", d.conn.State())
	}

	text, err := d.deps.Transport.PostString(ctx, d.actionURL(action, param), p)
	if err != nil {
		return nil, err
	}
	oteltrace.SpanFromContext(ctx).SetAttributes(otelattribute.Int("http.status_code", text.StatusCode))

	a := envelope.New(text.Body, text.StatusCode, text.Status)
	if e := a.Err(); e != nil {
		return nil, e
	}
	return a, nil
}

// noResult dispatches a command that returns nothing but its status.
func (d *Dispatcher) noResult(ctx context.Context, action, param string, p transport.Params) error {
	return d.run(ctx, action, func(ctx context.Context) error {
		_, err := d.call(ctx, action, param, p)
		return err
	})
}

// scalar dispatches a command whose envelope must carry a result and hands
// the result to parse.
func (d *Dispatcher) scalar(ctx context.Context, action, param string, p transport.Params, parse func(res string) error) error {
	return d.run(ctx, action, func(ctx context.Context) error {
		a, err := d.call(ctx, action, param, p)
		if err != nil {
			return err
		}

		res, ok := a.Result()
		if !ok {
			code, msg := a.HTTPStatus()
			e := contract(action, "response has no result")
			e.HTTPStatus, e.HTTPMessage = code, msg
			return e
		}
		return parse(res)
	})
}

// asString stores a string result.
func asString(dst *string) func(string) error {
	return func(res string) error {
		*dst = res
		return nil
	}
}

// contract returns a contract violation for a result that could not be interpreted.
func contract(action, format string, a ...any) *rerrors.E {
	e := rerrors.Newf(rerrors.ContractViolation, format, a...)
	e.Message = action + ": " + e.Message
	return e
}
