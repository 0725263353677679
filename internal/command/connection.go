// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package command

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"remotesql/cli/internal/transport"
)

// Actions without a result.
const (
	ActionCommit                       = "commit"
	ActionRollback                     = "rollback"
	ActionSetAutoCommit                = "set_auto_commit"
	ActionSetReadOnly                  = "set_read_only"
	ActionSetHoldability               = "set_holdability"
	ActionSetTransactionIsolationLevel = "set_transaction_isolation_level"
	ActionRollbackSavepoint            = "rollback_savepoint"
	ActionReleaseSavepoint             = "release_savepoint"
)

// Actions returning a scalar.
const (
	ActionGetAutoCommit                = "get_auto_commit"
	ActionIsReadOnly                   = "is_read_only"
	ActionGetHoldability               = "get_holdability"
	ActionGetTransactionIsolationLevel = "get_transaction_isolation_level"
	ActionGetCatalog                   = "get_catalog"
	ActionGetSchema                    = "get_schema"
	ActionSetSavepoint                 = "set_savepoint"
	ActionSetNamedSavepoint            = "set_named_savepoint"
)

// Savepoint is a server-side savepoint.
type Savepoint struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Commit commits the current transaction.
func (d *Dispatcher) Commit(ctx context.Context) error {
	return d.noResult(ctx, ActionCommit, "", transport.Params{})
}

// Rollback rolls back the current transaction.
func (d *Dispatcher) Rollback(ctx context.Context) error {
	return d.noResult(ctx, ActionRollback, "", transport.Params{})
}

// SetAutoCommit switches auto-commit mode.
func (d *Dispatcher) SetAutoCommit(ctx context.Context, on bool) error {
	return d.noResult(ctx, ActionSetAutoCommit, strconv.FormatBool(on), transport.Params{})
}

// SetReadOnly switches read-only mode.
func (d *Dispatcher) SetReadOnly(ctx context.Context, on bool) error {
	return d.noResult(ctx, ActionSetReadOnly, strconv.FormatBool(on), transport.Params{})
}

// SetHoldability sets the result holdability.
func (d *Dispatcher) SetHoldability(ctx context.Context, holdability int) error {
	return d.noResult(ctx, ActionSetHoldability, strconv.Itoa(holdability), transport.Params{})
}

// SetTransactionIsolation sets the transaction isolation level.
func (d *Dispatcher) SetTransactionIsolation(ctx context.Context, level int) error {
	return d.noResult(ctx, ActionSetTransactionIsolationLevel, strconv.Itoa(level), transport.Params{})
}

// AutoCommit reports whether auto-commit is on.
func (d *Dispatcher) AutoCommit(ctx context.Context) (bool, error) {
	return d.boolResult(ctx, ActionGetAutoCommit)
}

// IsReadOnly reports whether the connection is read-only.
func (d *Dispatcher) IsReadOnly(ctx context.Context) (bool, error) {
	return d.boolResult(ctx, ActionIsReadOnly)
}

// Holdability returns the result holdability.
func (d *Dispatcher) Holdability(ctx context.Context) (int, error) {
	return d.intResult(ctx, ActionGetHoldability)
}

// TransactionIsolation returns the transaction isolation level.
func (d *Dispatcher) TransactionIsolation(ctx context.Context) (int, error) {
	return d.intResult(ctx, ActionGetTransactionIsolationLevel)
}

// Catalog returns the current catalog.
func (d *Dispatcher) Catalog(ctx context.Context) (string, error) {
	var res string
	err := d.scalar(ctx, ActionGetCatalog, "", transport.Params{}, asString(&res))
	return res, err
}

// Schema returns the current schema.
func (d *Dispatcher) Schema(ctx context.Context) (string, error) {
	var res string
	err := d.scalar(ctx, ActionGetSchema, "", transport.Params{}, asString(&res))
	return res, err
}

// SetSavepoint creates an unnamed savepoint.
func (d *Dispatcher) SetSavepoint(ctx context.Context) (Savepoint, error) {
	return d.savepoint(ctx, ActionSetSavepoint, transport.Params{})
}

// SetNamedSavepoint creates a savepoint called name.
func (d *Dispatcher) SetNamedSavepoint(ctx context.Context, name string) (Savepoint, error) {
	var p transport.Params
	p.Set("name", name)
	return d.savepoint(ctx, ActionSetNamedSavepoint, p)
}

// RollbackSavepoint rolls back to sp.
func (d *Dispatcher) RollbackSavepoint(ctx context.Context, sp Savepoint) error {
	return d.noResult(ctx, ActionRollbackSavepoint, "", savepointParams(sp))
}

// ReleaseSavepoint releases sp.
func (d *Dispatcher) ReleaseSavepoint(ctx context.Context, sp Savepoint) error {
	return d.noResult(ctx, ActionReleaseSavepoint, "", savepointParams(sp))
}

func savepointParams(sp Savepoint) transport.Params {
	var p transport.Params
	p.SetInt("id", sp.ID).Set("name", sp.Name)
	return p
}

func (d *Dispatcher) savepoint(ctx context.Context, action string, p transport.Params) (Savepoint, error) {
	var sp Savepoint
	err := d.scalar(ctx, action, "", p, func(res string) error {
		var err error
		sp, err = parseSavepoint(action, res)
		return err
	})
	return sp, err
}

// parseSavepoint accepts {"id":1,"name":"x"} or a bare id.
func parseSavepoint(action, res string) (Savepoint, error) {
	var sp Savepoint
	if strings.HasPrefix(strings.TrimSpace(res), "{") {
		if err := json.Unmarshal([]byte(res), &sp); err != nil {
			return Savepoint{}, contract(action, "invalid savepoint %q", res)
		}
		return sp, nil
	}

	id, err := strconv.Atoi(strings.TrimSpace(res))
	if err != nil {
		return Savepoint{}, contract(action, "invalid savepoint %q", res)
	}
	sp.ID = id
	return sp, nil
}

func (d *Dispatcher) boolResult(ctx context.Context, action string) (bool, error) {
	var b bool
	err := d.scalar(ctx, action, "", transport.Params{}, func(res string) error {
		var err error
		if b, err = strconv.ParseBool(res); err != nil {
			return contract(action, "result %q is not a boolean", res)
		}
		return nil
	})
	return b, err
}

func (d *Dispatcher) intResult(ctx context.Context, action string) (int, error) {
	var n int
	err := d.scalar(ctx, action, "", transport.Params{}, func(res string) error {
		var err error
		if n, err = strconv.Atoi(res); err != nil {
			return contract(action, "result %q is not an integer", res)
		}
		return nil
	})
	return n, err
}
