// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides structured error handling for the strata CLI.
//
// UserError carries three levels of context: what went wrong, why, and how
// to fix it, plus a semantic exit code. Commands build UserErrors at their
// boundary and hand them to FatalError, which renders them either as
// colored text or as JSON depending on the output mode.
//
//	err := errors.NewCatalogError(
//	    "Cannot open the strata catalog",
//	    "The catalog database is locked by another scan",
//	    "Wait for the running scan to finish; locks abandoned by a crashed scan expire on their own",
//	    underlyingErr,
//	)
//	errors.FatalError(err, jsonMode)
//
// # Exit Codes
//
//   - ExitSuccess (0): successful execution
//   - ExitConfig (1): schema or CLI configuration errors
//   - ExitCatalog (2): catalog database errors (locked, corrupted)
//   - ExitStorage (3): table store errors (write refused, checksum mismatch)
//   - ExitInput (4): invalid user input (bad arguments, unknown workflow)
//   - ExitPermission (5): permission denied (data locations, store root)
//   - ExitNotFound (6): resource not found (workflow, collection, version)
//   - ExitInternal (10): internal errors (bugs)
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitConfig indicates schema or configuration errors.
	ExitConfig = 1

	// ExitCatalog indicates catalog database errors.
	ExitCatalog = 2

	// ExitStorage indicates table store errors.
	ExitStorage = 3

	// ExitInput indicates invalid user input.
	ExitInput = 4

	// ExitPermission indicates permission denied errors.
	ExitPermission = 5

	// ExitNotFound indicates resource not found errors.
	ExitNotFound = 6

	// ExitInternal indicates internal errors. Exit code 10 signals "this is
	// a bug that should be reported".
	ExitInternal = 10
)

// UserError is an error with structured context for end users: Message says
// what went wrong, Cause why, Fix what to do about it. It carries the exit
// code the CLI should use and optionally wraps an underlying error.
type UserError struct {
	// Message describes what went wrong in user-facing language.
	Message string

	// Cause explains why the error occurred.
	Cause string

	// Fix is an actionable suggestion.
	Fix string

	// ExitCode is used when exiting due to this error.
	ExitCode int

	// Err is the wrapped underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap enables errors.Is and errors.As over the underlying error.
func (e *UserError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a configuration error with exit code ExitConfig.
// Use it for missing, invalid or malformed schema and config files.
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitConfig, Err: err}
}

// NewCatalogError creates a catalog error with exit code ExitCatalog. Use
// it for catalog database failures: locked, corrupted, failed transactions.
func NewCatalogError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitCatalog, Err: err}
}

// NewStorageError creates a table store error with exit code ExitStorage.
// Use it for refused or failed version writes and unreadable segments.
func NewStorageError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitStorage, Err: err}
}

// NewInputError creates an input validation error with exit code ExitInput.
// Input errors do not wrap an underlying error.
func NewInputError(msg, cause, fix string) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitInput}
}

// NewPermissionError creates a permission denied error with exit code
// ExitPermission.
func NewPermissionError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitPermission, Err: err}
}

// NewNotFoundError creates a resource not found error with exit code
// ExitNotFound. Not found errors do not wrap an underlying error.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitNotFound}
}

// NewInternalError creates an internal error with exit code ExitInternal.
// Use it for conditions that indicate a bug rather than bad input.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: ExitInternal, Err: err}
}

// Color definitions for error formatting.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns the error rendered for terminal display: Error in bold
// red, Cause in yellow, Fix in green. Empty Cause or Fix lines are
// omitted. Color respects the NO_COLOR environment variable and the
// noColor parameter.
//
//	Error: Cannot open the strata catalog
//	Cause: The catalog database is locked by another scan
//	Fix:   Wait for the running scan to finish
func (e *UserError) Format(noColor bool) string {
	// Save and restore the global color state to avoid side effects.
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// ErrorJSON is the machine-readable rendering used by --json mode.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the UserError to its JSON form.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
}

// FatalError prints the error and exits with the appropriate code. For
// UserError it renders Format or ToJSON depending on jsonOutput; anything
// else prints plainly and exits ExitInternal. Never returns.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if ue, ok := err.(*UserError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			// About to exit; an encode failure still exits with the code.
			_ = enc.Encode(ue.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, ue.Format(false))
		}
		os.Exit(ue.ExitCode)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitInternal)
}
