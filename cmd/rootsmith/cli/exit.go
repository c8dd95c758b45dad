// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// UsageError reports that the operator invoked the tool incorrectly:
// an unknown command, a bad flag, or a missing required argument. The
// main function exits with status 2 for these, distinguishing them
// from operational failures (status 1).
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// ExitCode returns the conventional usage exit status.
func (e *UsageError) ExitCode() int { return 2 }

// Usagef builds a UsageError from a format string.
func Usagef(format string, args ...any) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}
