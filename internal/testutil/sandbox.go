// Package testutil holds the small fixtures shared by tests across
// packages.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Sandbox is an isolated scratch directory for tests that produce
// build artifacts (injected C sources, manifests, compiled modules).
type Sandbox struct {
	Root string
}

// NewSandbox creates a Sandbox rooted at a fresh temporary directory.
func NewSandbox() (*Sandbox, error) {
	dir, err := os.MkdirTemp("", "challenge_sandbox")
	if err != nil {
		return nil, err
	}
	return &Sandbox{Root: dir}, nil
}

// Path returns the absolute path for a file within the sandbox.
func (s *Sandbox) Path(name string) string {
	return filepath.Join(s.Root, name)
}

// WriteFile writes data to the named file inside the sandbox.
func (s *Sandbox) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(s.Path(name), data, perm)
}

// ReadFile returns the contents of the named file inside the sandbox.
func (s *Sandbox) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}

// Cleanup deletes the sandbox directory and everything under it.
func (s *Sandbox) Cleanup() error {
	return os.RemoveAll(s.Root)
}
