package engine_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all engine tests complete.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
