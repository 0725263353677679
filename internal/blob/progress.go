// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package blob

import (
	"context"
	"sync/atomic"
)

// ProgressSink receives transfer progress as a percentage in [0, 100].
type ProgressSink interface {
	Report(percent int)
}

// CancelToken is polled by transfers between chunks.
type CancelToken interface {
	Cancelled() bool
}

// Counter is a ProgressSink that remembers the last reported percentage.
// The zero value is ready to use and safe for concurrent use.
type Counter struct {
	v atomic.Int32
}

// Report implements ProgressSink.
func (c *Counter) Report(percent int) {
	c.v.Store(int32(min(max(percent, 0), 100)))
}

// Percent returns the last reported percentage.
func (c *Counter) Percent() int {
	return int(c.v.Load())
}

// Flag is a CancelToken set by Cancel.
// The zero value is ready to use and safe for concurrent use.
type Flag struct {
	v atomic.Bool
}

// Cancel requests cancellation.
func (f *Flag) Cancel() {
	f.v.Store(true)
}

// Cancelled implements CancelToken.
func (f *Flag) Cancelled() bool {
	return f.v.Load()
}

// ContextToken returns a CancelToken that is cancelled once ctx is done.
func ContextToken(ctx context.Context) CancelToken {
	return contextToken{ctx}
}

type contextToken struct {
	ctx context.Context
}

func (t contextToken) Cancelled() bool {
	return t.ctx.Err() != nil
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(percent int)

// Report implements ProgressSink.
func (f SinkFunc) Report(percent int) {
	f(percent)
}

// check interfaces
var (
	_ ProgressSink = (*Counter)(nil)
	_ ProgressSink = SinkFunc(nil)
	_ CancelToken  = (*Flag)(nil)
	_ CancelToken  = contextToken{}
)
