// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestJSON_PrettyPrinted(t *testing.T) {
	var buf bytes.Buffer

	data := map[string]any{
		"workflow": "rnaseq",
		"versions": 3,
	}
	if err := JSONTo(&buf, data); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "  \"workflow\"") {
		t.Errorf("expected 2-space indentation, got: %s", out)
	}
	if !strings.Contains(out, `"versions": 3`) {
		t.Errorf("missing versions field, got: %s", out)
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Errorf("expected trailing newline, got: %q", out)
	}
}

func TestJSONCompact_SingleLine(t *testing.T) {
	var buf bytes.Buffer

	if err := JSONCompactTo(&buf, map[string]any{"workflow": "rnaseq"}); err != nil {
		t.Fatalf("JSONCompactTo failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "  ") {
		t.Errorf("compact JSON should not be indented, got: %s", out)
	}
	if !strings.Contains(out, `"workflow":"rnaseq"`) {
		t.Errorf("missing workflow field, got: %s", out)
	}
}

func TestJSONError_Envelope(t *testing.T) {
	var buf bytes.Buffer

	if err := JSONErrorTo(&buf, errors.New("collection locked")); err != nil {
		t.Fatalf("JSONErrorTo failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"error": "collection locked"`) {
		t.Errorf("missing error field, got: %s", out)
	}
}

func TestJSON_StructTags(t *testing.T) {
	type summary struct {
		Workflow  string `json:"workflow"`
		Versions  int    `json:"versions"`
		OmitEmpty string `json:"omit_empty,omitempty"`
		Ignored   string `json:"-"`
	}

	var buf bytes.Buffer
	data := summary{Workflow: "rnaseq", Versions: 1, Ignored: "should-not-appear"}
	if err := JSONTo(&buf, data); err != nil {
		t.Fatalf("JSONTo failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"workflow"`) {
		t.Errorf("expected snake_case tag, got: %s", out)
	}
	if strings.Contains(out, "omit_empty") {
		t.Errorf("expected empty field to be omitted, got: %s", out)
	}
	if strings.Contains(out, "should-not-appear") {
		t.Errorf("expected ignored field to be excluded, got: %s", out)
	}
}
