//go:build !windows

// Package fileutil provides owner-only file helpers for tokens, credentials
// and the raw message archive. On Windows, owner-only modes additionally get
// a DACL restricting access to the current user.
package fileutil

import "os"

// SecureWriteFile writes data to path with perm.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// SecureMkdirAll creates path and any missing parents with perm.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
