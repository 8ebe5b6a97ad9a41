//go:build !windows

// Package fileutil writes credential-bearing files with owner-only access.
// On Unix the helpers are thin wrappers around os.* that rely on mode bits.
// On Windows owner-only modes additionally get a DACL restricted to the
// current user.
package fileutil

import "os"

// SecureMkdirAll creates path and any missing parents with perm.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// SecureChmod sets the mode of path to perm.
func SecureChmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}
