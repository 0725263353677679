// Package testutil provides helpers shared by remotesql tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Logger returns a debug logger that writes through tb.
func Logger(tb testing.TB) *zap.Logger {
	tb.Helper()

	return zaptest.NewLogger(tb, zaptest.Level(zap.DebugLevel))
}

// Ctx returns a context cancelled when the test ends or after a generous timeout.
func Ctx(tb testing.TB) context.Context {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tb.Cleanup(cancel)

	return ctx
}
