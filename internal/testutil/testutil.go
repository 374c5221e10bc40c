// Package testutil provides test helpers for projmail tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings)
//   - store_helpers.go: database test setup (NewTestStore) and fixtures
//   - fs_helpers.go: filesystem operations (WriteFile, MustExist)
//   - email/: raw MIME message builder
package testutil
