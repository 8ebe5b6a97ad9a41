// Package testutil provides test helpers for tempmail tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - clock.go: a deterministic clock (FakeClock)
package testutil
