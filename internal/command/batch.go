// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package command

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"remotesql/cli/internal/blob"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/transport"
)

// Batch actions.
const (
	ActionStatementExecuteBatch         = "statement_execute_batch"
	ActionPreparedStatementExecuteBatch = "prepared_statement_execute_batch"
)

// ExecuteBatch runs statements as one batch and returns their update counts.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, statements []string) ([]int, error) {
	if len(statements) == 0 {
		return nil, rerrors.Precondition("batch is empty")
	}

	lines := make([]any, len(statements))
	for i, s := range statements {
		lines[i] = s
	}
	return d.batch(ctx, ActionStatementExecuteBatch, "", lines)
}

// ExecutePreparedBatch runs sql once per parameter set and returns the update counts.
func (d *Dispatcher) ExecutePreparedBatch(ctx context.Context, sql string, sets []transport.Params) ([]int, error) {
	if sql == "" {
		return nil, rerrors.Precondition("sql is required")
	}
	if len(sets) == 0 {
		return nil, rerrors.Precondition("batch is empty")
	}

	lines := make([]any, len(sets))
	for i, p := range sets {
		lines[i] = p.Values()
	}
	return d.batch(ctx, ActionPreparedStatementExecuteBatch, sql, lines)
}

// batch stages lines as a JSON-lines blob and runs action against it.
func (d *Dispatcher) batch(ctx context.Context, action, sql string, lines []any) ([]int, error) {
	var payload bytes.Buffer
	for _, line := range lines {
		b, err := json.Marshal(line)
		if err != nil {
			return nil, rerrors.Precondition("invalid batch entry: %v", err)
		}
		payload.Write(b)
		payload.WriteByte('\n')
	}

	blobID := "batch-" + uuid.NewString() + ".txt"

	var counts []int
	err := d.run(ctx, action, func(ctx context.Context) error {
		if err := d.deps.Blobs.Upload(ctx, d.conn.BaseURL, blobID, &payload, int64(payload.Len()), nil, nil); err != nil {
			return err
		}

		var p transport.Params
		p.Set(blob.FieldBlobID, blobID)
		if sql != "" {
			p.Set("sql", sql)
		}

		a, err := d.call(ctx, action, "", p)
		if err != nil {
			return err
		}

		res, ok := a.Result()
		if !ok {
			return contract(action, "response has no result")
		}
		if err := json.Unmarshal([]byte(res), &counts); err != nil {
			return contract(action, "result is not an array of update counts: %v", err)
		}
		if len(counts) != len(lines) {
			d.l.Warn("Batch update count mismatch",
				zap.String("action", action), zap.Int("sent", len(lines)), zap.Int("counts", len(counts)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
