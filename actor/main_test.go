package actor

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no test in this package leaks goroutines: a run
// that reached quiescence must have torn down every actor task and every
// runtime watcher.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
