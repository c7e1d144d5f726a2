// Package testutil starts the backing stores used by integration tests.
//
// Each container is started at most once per test binary and shared by every
// test in it; the testcontainers reaper removes it when the binary exits.
// Tests are skipped when -short is set or Docker is unavailable.
package testutil

import (
	"testing"
)

func skipIfShort(t *testing.T, what string) {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s integration test in short mode", what)
	}
}

func skipOnErr(t *testing.T, what string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", what, err)
	}
}
