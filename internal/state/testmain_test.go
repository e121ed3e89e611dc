package state_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests complete; a
// reaper that outlives its context fails the run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
