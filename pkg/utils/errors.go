// Package utils provides the small shared helpers (cached environment
// lookups, error wrapping) used across the challenge-gate services.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
