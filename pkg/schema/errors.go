// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package schema

import (
	"fmt"
	"strings"
)

// ConfigValidationError reports a static schema problem naming the
// offending field. It is fatal: a scan must never start with a schema that
// failed validation.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("schema validation: %s: %s", e.Field, e.Reason)
}

// JoinResolutionError reports a join graph that cannot be ordered. At load
// time it means the schema declares a cycle; seen anywhere later it is an
// internal invariant violation.
type JoinResolutionError struct {
	Workflow string
	Cycle    []string
	Detail   string
}

func (e *JoinResolutionError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("join resolution: workflow %q: cycle through collections [%s]",
			e.Workflow, strings.Join(e.Cycle, ", "))
	}
	return fmt.Sprintf("join resolution: workflow %q: %s", e.Workflow, e.Detail)
}
