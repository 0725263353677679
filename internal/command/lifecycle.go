// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package command

import (
	"context"

	rerrors "remotesql/cli/internal/errors"
)

// Lifecycle actions.
const (
	ActionGetConnection = "get_connection"
	ActionClose         = "close"
	ActionLogout        = "logout"
)

// Clone returns a dispatcher on a new connection in the same session, with the same options.
func (d *Dispatcher) Clone(ctx context.Context) (*Dispatcher, error) {
	if d.deps.Sessions == nil {
		return nil, rerrors.Precondition("no session manager")
	}

	var clone *Dispatcher
	err := d.run(ctx, ActionGetConnection, func(ctx context.Context) error {
		c, err := d.deps.Sessions.Clone(ctx, d.conn)
		if err != nil {
			return err
		}
		clone = New(c, d.deps, d.opts)
		return nil
	})
	return clone, err
}

// Close releases the connection on the server. The session stays usable.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.deps.Sessions == nil {
		return rerrors.Precondition("no session manager")
	}
	return d.run(ctx, ActionClose, func(ctx context.Context) error {
		return d.deps.Sessions.Close(ctx, d.conn)
	})
}

// Logout ends the session on the server and forgets it locally.
func (d *Dispatcher) Logout(ctx context.Context) error {
	if d.deps.Sessions == nil {
		return rerrors.Precondition("no session manager")
	}
	return d.run(ctx, ActionLogout, func(ctx context.Context) error {
		return d.deps.Sessions.Logout(ctx, d.conn)
	})
}
