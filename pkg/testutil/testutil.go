// Package testutil provides testing utilities for healsink
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/healsink/pkg/config"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// SQLiteConfig returns a pipeline configuration writing to a fresh sqlite
// file under the test's temp dir, with fast connection retries.
func SQLiteConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.NewConfig("test")
	cfg.Store.Dialect = "sqlite"
	cfg.Store.Database = filepath.Join(t.TempDir(), "healsink.db")
	cfg.Reliability.RetryMinDelay = time.Millisecond
	cfg.Reliability.RetryMaxDelay = 5 * time.Millisecond
	cfg.Observability.LogLevel = "debug"
	return cfg
}
