// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestUserError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *UserError
		want string
	}{
		{
			name: "with underlying error",
			err: &UserError{
				Message: "Cannot open the catalog",
				Err:     fmt.Errorf("database locked"),
			},
			want: "Cannot open the catalog: database locked",
		},
		{
			name: "without underlying error",
			err:  &UserError{Message: "Invalid input"},
			want: "Invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("UserError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		want     int
	}{
		{"ExitSuccess", ExitSuccess, 0},
		{"ExitConfig", ExitConfig, 1},
		{"ExitCatalog", ExitCatalog, 2},
		{"ExitStorage", ExitStorage, 3},
		{"ExitInput", ExitInput, 4},
		{"ExitPermission", ExitPermission, 5},
		{"ExitNotFound", ExitNotFound, 6},
		{"ExitInternal", ExitInternal, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.exitCode != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, tt.exitCode, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	underlying := fmt.Errorf("underlying error")

	tests := []struct {
		name         string
		err          *UserError
		wantExitCode int
		wantHasErr   bool
	}{
		{"NewConfigError", NewConfigError("msg", "cause", "fix", underlying), ExitConfig, true},
		{"NewCatalogError", NewCatalogError("msg", "cause", "fix", underlying), ExitCatalog, true},
		{"NewStorageError", NewStorageError("msg", "cause", "fix", underlying), ExitStorage, true},
		{"NewInputError", NewInputError("msg", "cause", "fix"), ExitInput, false},
		{"NewPermissionError", NewPermissionError("msg", "cause", "fix", underlying), ExitPermission, true},
		{"NewNotFoundError", NewNotFoundError("msg", "cause", "fix"), ExitNotFound, false},
		{"NewInternalError", NewInternalError("msg", "cause", "fix", underlying), ExitInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Message != "msg" || tt.err.Cause != "cause" || tt.err.Fix != "fix" {
				t.Errorf("constructor did not carry fields: %+v", tt.err)
			}
			if tt.err.ExitCode != tt.wantExitCode {
				t.Errorf("ExitCode = %d, want %d", tt.err.ExitCode, tt.wantExitCode)
			}
			if (tt.err.Err != nil) != tt.wantHasErr {
				t.Errorf("has underlying error = %v, want %v", tt.err.Err != nil, tt.wantHasErr)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	t.Run("errors.Is traverses UserError", func(t *testing.T) {
		sentinel := fmt.Errorf("sentinel")
		wrapped := fmt.Errorf("wrapped: %w", sentinel)
		userErr := NewCatalogError("catalog error", "cause", "fix", wrapped)

		if !errors.Is(userErr, sentinel) {
			t.Error("errors.Is should find the sentinel through the chain")
		}
	})

	t.Run("errors.As extracts the outermost UserError", func(t *testing.T) {
		inner := NewConfigError("config error", "cause", "fix", nil)
		outer := NewStorageError("storage error", "cause", "fix", inner)

		var ue *UserError
		if !errors.As(outer, &ue) {
			t.Fatal("errors.As should extract UserError")
		}
		if ue.ExitCode != ExitStorage {
			t.Errorf("ExitCode = %d, want %d", ue.ExitCode, ExitStorage)
		}

		var innerUE *UserError
		if !errors.As(ue.Err, &innerUE) {
			t.Fatal("errors.As should extract the nested UserError")
		}
		if innerUE.ExitCode != ExitConfig {
			t.Errorf("nested ExitCode = %d, want %d", innerUE.ExitCode, ExitConfig)
		}
	})
}

func TestUserError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *UserError
		want []string
	}{
		{
			name: "full error",
			err: &UserError{
				Message:  "Cannot open the catalog",
				Cause:    "The database is locked by another scan",
				Fix:      "Wait for the running scan to finish",
				ExitCode: ExitCatalog,
			},
			want: []string{
				"Error: Cannot open the catalog",
				"Cause: The database is locked by another scan",
				"Fix:   Wait for the running scan to finish",
			},
		},
		{
			name: "error without cause",
			err:  &UserError{Message: "Invalid input", Fix: "Use a known workflow name", ExitCode: ExitInput},
			want: []string{"Error: Invalid input", "Fix:   Use a known workflow name"},
		},
		{
			name: "message only",
			err:  &UserError{Message: "Something failed", ExitCode: ExitInternal},
			want: []string{"Error: Something failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Format(true)
			for _, substr := range tt.want {
				if !strings.Contains(got, substr) {
					t.Errorf("Format() output missing %q\nGot: %s", substr, got)
				}
			}
		})
	}
}

func TestUserError_Format_RespectsNoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	err := &UserError{Message: "Test error", Cause: "Test cause", Fix: "Test fix", ExitCode: ExitConfig}
	out := err.Format(false)
	if strings.Contains(out, "\x1b[") {
		t.Error("Format() emitted ANSI codes despite NO_COLOR")
	}
}

func TestUserError_ToJSON(t *testing.T) {
	err := &UserError{
		Message:  "Invalid schema",
		Cause:    "Missing required field",
		Fix:      "Run: strata validate --config strata.yaml",
		ExitCode: ExitConfig,
	}
	got := err.ToJSON()
	if got.Error != err.Message || got.Cause != err.Cause || got.Fix != err.Fix || got.ExitCode != err.ExitCode {
		t.Errorf("ToJSON() = %+v, want field-for-field copy of %+v", got, err)
	}
}

func TestFatalError_NilIsNoop(t *testing.T) {
	FatalError(nil, false)
	if _, err := os.Stdout.Stat(); err != nil {
		t.Fatalf("stdout unusable after FatalError(nil): %v", err)
	}
}
