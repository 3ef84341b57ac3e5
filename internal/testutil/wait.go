// Package testutil provides shared test utilities for gridlens packages:
// SQLite-backed stores with seeded fixtures and polling helpers.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTestTimeout bounds waits on background workers in tests.
const DefaultTestTimeout = 5 * time.Second

// Eventually polls cond every 10ms until it holds or timeout expires.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 10*time.Millisecond, msg)
}
