// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	otelattribute "go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"remotesql/cli/internal/envelope"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/session"
	"remotesql/cli/internal/transport"
)

// Statement actions.
const (
	ActionExecute       = "execute"
	ActionExecuteQuery  = "execute_query"
	ActionExecuteUpdate = "execute_update"
	ActionMetadataQuery = "metadata_query"
)

// Statement is a SQL statement with its bound parameters.
type Statement struct {
	SQL             string
	Prepared        bool
	StoredProcedure bool
	// Params are the bound parameters, sent as they are.
	Params transport.Params
	// OutParameters lists the positions of declared stored-procedure out parameters.
	OutParameters []int
}

// UpdateResult is the outcome of ExecuteUpdate.
type UpdateResult struct {
	RowCount int
	// OutParameters holds stored-procedure out parameter values by position.
	OutParameters map[int]string
}

var gzipMagic = []byte{0x1f, 0x8b}

// envelopeProbe bounds the body prefix examined for a FAIL envelope before a
// result stream is handed out. Status envelopes are far smaller; result sets
// larger than the probe are passed through unread.
const envelopeProbe = 64 << 10

func (s Statement) params() transport.Params {
	var p transport.Params
	p.Set("sql", s.SQL).
		SetBool("prepared_statement", s.Prepared).
		SetBool("stored_procedure", s.StoredProcedure)
	return p
}

// queryParams adds the result options of query actions.
func (d *Dispatcher) queryParams(s Statement) transport.Params {
	p := s.params()
	p.SetBool("gzip_result", d.opts.GzipResult).
		SetBool("fill_result_set_meta_data", d.opts.FillResultSetMetaData).
		SetBool("pretty_printing", d.opts.PrettyPrinting).
		SetInt("max_rows", d.opts.MaxRows)
	p.Merge(s.Params)
	return p
}

// Execute runs any statement and returns the raw result stream. The caller must close it.
func (d *Dispatcher) Execute(ctx context.Context, s Statement) (io.ReadCloser, error) {
	if s.SQL == "" {
		return nil, rerrors.Precondition("sql is required")
	}
	return d.stream(ctx, ActionExecute, "", d.queryParams(s))
}

// ExecuteQuery runs a query and returns the raw result stream. The caller must close it.
func (d *Dispatcher) ExecuteQuery(ctx context.Context, s Statement) (io.ReadCloser, error) {
	if s.SQL == "" {
		return nil, rerrors.Precondition("sql is required")
	}
	return d.stream(ctx, ActionExecuteQuery, "", d.queryParams(s))
}

// MetadataQuery runs the named metadata query and returns the raw result stream.
func (d *Dispatcher) MetadataQuery(ctx context.Context, name string, p transport.Params) (io.ReadCloser, error) {
	if name == "" {
		return nil, rerrors.Precondition("metadata query name is required")
	}
	return d.stream(ctx, ActionMetadataQuery, name, p)
}

// ExecuteUpdate runs an update. For a stored procedure with declared out parameters,
// a response without out parameter values is a contract violation.
func (d *Dispatcher) ExecuteUpdate(ctx context.Context, s Statement) (UpdateResult, error) {
	if s.SQL == "" {
		return UpdateResult{}, rerrors.Precondition("sql is required")
	}

	p := s.params()
	p.Merge(s.Params)

	var res UpdateResult
	err := d.run(ctx, ActionExecuteUpdate, func(ctx context.Context) error {
		a, err := d.call(ctx, ActionExecuteUpdate, "", p)
		if err != nil {
			return err
		}

		res.RowCount = a.RowCount()
		if !s.StoredProcedure {
			return nil
		}

		if res.OutParameters, err = a.OutParametersByIndex(); err != nil {
			return err
		}
		if len(s.OutParameters) > 0 && len(res.OutParameters) == 0 {
			code, msg := a.HTTPStatus()
			e := contract(ActionExecuteUpdate, "stored procedure declared %d out parameters but none were returned", len(s.OutParameters))
			e.HTTPStatus, e.HTTPMessage = code, msg
			return e
		}
		return nil
	})
	return res, err
}

// stream posts an action and returns its body. A non-success status or a short
// FAIL envelope is turned into an error. Gzip-compressed bodies are decompressed.
func (d *Dispatcher) stream(ctx context.Context, action, param string, p transport.Params) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := d.run(ctx, action, func(ctx context.Context) error {
		if d.conn.State() != session.Active {
			return rerrors.Precondition("connection is %s", d.conn.State())
		}

		resp, err := d.deps.Transport.Post(ctx, d.actionURL(action, param), p)
		if err != nil {
			return err
		}
		oteltrace.SpanFromContext(ctx).SetAttributes(otelattribute.Int("http.status_code", resp.StatusCode))

		if !resp.OK() {
			text, err := transport.ReadText(resp)
			if err != nil {
				return err
			}
			if e := envelope.New(text.Body, text.StatusCode, text.Status).Err(); e != nil {
				return e
			}
			return rerrors.HTTP(text.StatusCode, text.Status)
		}

		body, err := decompress(resp.Body)
		if err != nil {
			return err
		}
		rc, err = probe(body, resp.StatusCode, resp.Status)
		return err
	})
	return rc, err
}

// probe returns body unchanged unless it ends within envelopeProbe bytes, in which
// case it must be an OK envelope.
func probe(body io.ReadCloser, code int, status string) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(body, envelopeProbe)

	head, err := br.Peek(envelopeProbe)
	switch {
	case err == nil:
		return readCloser{Reader: br, Closer: body}, nil
	case err != io.EOF:
		body.Close()
		if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) {
			return nil, rerrors.Wrap(rerrors.IOFailure, "invalid gzip result: "+err.Error(), err)
		}
		return nil, rerrors.Transport(err, code, status)
	}

	if e := envelope.New(string(head), code, status).Err(); e != nil {
		body.Close()
		return nil, e
	}
	return readCloser{Reader: br, Closer: body}, nil
}

// decompress wraps body in a gzip reader when it starts with the gzip magic bytes.
func decompress(body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(body)

	magic, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		body.Close()
		return nil, rerrors.Transport(err, 0, "")
	}
	if !bytes.Equal(magic, gzipMagic) {
		return readCloser{Reader: br, Closer: body}, nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		body.Close()
		return nil, rerrors.Wrap(rerrors.IOFailure, "invalid gzip result: "+err.Error(), err)
	}
	return readCloser{Reader: zr, Closer: closers{zr, body}}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// closers closes all its members and returns the first error.
type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
