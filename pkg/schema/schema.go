// Copyright 2026 Depictio
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package schema loads and validates the declarative project schema that
// drives ingestion: workflows, data collections, scan rules and join edges.
//
// Validation is strict and happens entirely at load time. Downstream stages
// (discovery, matching, parsing, joining) operate on an already-compiled,
// statically known shape and never re-validate; a schema error discovered
// late would risk partially-registered data, so Load refuses to return a
// Project unless every regex compiles, every tag is unique, every join
// target exists and the join graph is acyclic.
package schema

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/depictio/strata/pkg/table"
)

// Collection types understood by the pipeline. Only TypeTable enters
// ingestion scope; other types (genome browser tracks etc.) are matched and
// registered but never parsed or materialized.
const (
	TypeTable    = "table"
	TypeJBrowse2 = "jbrowse2"
)

// Scan modes.
const (
	ModeSingle    = "single"
	ModeRecursive = "recursive"
)

// Project is the root of a validated schema document.
type Project struct {
	Name      string      `yaml:"name" validate:"required"`
	Workflows []*Workflow `yaml:"workflows" validate:"required,min=1,dive"`
}

// Workflow groups the data collections produced by one pipeline engine and
// the filesystem locations its runs land in.
type Workflow struct {
	Name            string            `yaml:"name" validate:"required"`
	Engine          Engine            `yaml:"engine"`
	DataLocation    DataLocation      `yaml:"data_location"`
	DataCollections []*DataCollection `yaml:"data_collections" validate:"required,min=1,dive"`

	byTag map[string]*DataCollection
}

// Engine identifies the external pipeline engine (informational).
type Engine struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version,omitempty"`
}

// DataLocation declares where runs of a workflow live and how run
// directories are recognized.
type DataLocation struct {
	// Structure is documentation of the layout ("flat", "run-per-dir"); it
	// carries no behavior.
	Structure string `yaml:"structure,omitempty"`

	// RunsRegex matches run directory names under each location; the full
	// directory name is the run id.
	RunsRegex string `yaml:"runs_regex" validate:"required"`

	// Locations are the root directories scanned for runs.
	Locations []string `yaml:"locations" validate:"required,min=1"`

	runsRE *regexp.Regexp
}

// RunsRE returns the compiled runs regex. Only valid after Load.
func (d *DataLocation) RunsRE() *regexp.Regexp { return d.runsRE }

// DataCollection declares one named, typed group of files within a
// workflow sharing a match pattern and parse options.
type DataCollection struct {
	Tag    string   `yaml:"data_collection_tag" validate:"required"`
	Config DCConfig `yaml:"config"`
	Join   *Join    `yaml:"join,omitempty"`

	joinKeys []string
}

// DCConfig holds the per-collection scan and parse configuration.
type DCConfig struct {
	Type        string            `yaml:"type" validate:"required"`
	Scan        ScanConfig        `yaml:"scan"`
	Properties  FormatOptions     `yaml:"dc_specific_properties"`
	KeepColumns []string          `yaml:"keep_columns,omitempty"`
	Description map[string]string `yaml:"columns_description,omitempty"`
}

// ScanConfig selects how files are located inside a run directory.
type ScanConfig struct {
	Mode       string         `yaml:"mode" validate:"required,oneof=single recursive"`
	Parameters ScanParameters `yaml:"scan_parameters"`
}

// ScanParameters carries the mode-specific settings: Filename for single
// mode, Regex for recursive mode. IndexExtension names a sidecar/index
// suffix that must never be yielded as a primary match (e.g. ".tbi").
type ScanParameters struct {
	Filename       string       `yaml:"filename,omitempty"`
	Regex          *RegexConfig `yaml:"regex_config,omitempty"`
	IndexExtension string       `yaml:"index_extension,omitempty"`
}

// RegexConfig is a recursive-mode match pattern with optional named
// wildcard groups used to extract per-file metadata from paths.
type RegexConfig struct {
	Pattern string `yaml:"pattern"`

	compiled *regexp.Regexp
	groups   []string
}

// RE returns the compiled pattern. Only valid after Load.
func (r *RegexConfig) RE() *regexp.Regexp { return r.compiled }

// Groups returns the declared named wildcard groups in pattern order.
func (r *RegexConfig) Groups() []string { return r.groups }

// FormatOptions are the per-collection parse options for tabular files.
type FormatOptions struct {
	// Format is "csv", "tsv" or "table" (custom separator).
	Format string `yaml:"format,omitempty"`

	// Separator overrides the delimiter for "table" format. Single rune.
	Separator string `yaml:"separator,omitempty"`

	// HasHeader defaults to true; headerless files get column_1..column_n.
	HasHeader *bool `yaml:"has_header,omitempty"`
}

// Delimiter resolves the effective field delimiter.
func (f *FormatOptions) Delimiter() rune {
	switch f.Format {
	case "tsv":
		return '\t'
	case "table":
		if f.Separator != "" {
			return []rune(f.Separator)[0]
		}
		return '\t'
	default:
		return ','
	}
}

// Header reports whether the first row is a header (default true).
func (f *FormatOptions) Header() bool {
	return f.HasHeader == nil || *f.HasHeader
}

// Join declares that a collection's fragments are joined against one or
// more sibling collections' materialized tables before aggregation.
type Join struct {
	OnColumns []string `yaml:"on_columns" validate:"required,min=1"`
	How       string   `yaml:"how" validate:"required"`
	WithDC    []string `yaml:"with_dc" validate:"required,min=1"`

	kind table.JoinKind
}

// Kind returns the parsed join kind. Only valid after Load.
func (j *Join) Kind() table.JoinKind { return j.kind }

// JoinKeyColumns returns every column this collection must carry to take
// part in the workflow's joins: its own on_columns plus the on_columns of
// each collection that joins against it. Join keys are validated and kept
// through parsing even when keep_columns omits them. Only valid after Load.
func (dc *DataCollection) JoinKeyColumns() []string { return dc.joinKeys }

func (dc *DataCollection) addJoinKeys(cols []string) {
	for _, c := range cols {
		dup := false
		for _, have := range dc.joinKeys {
			if have == c {
				dup = true
				break
			}
		}
		if !dup {
			dc.joinKeys = append(dc.joinKeys, c)
		}
	}
}

// IsTable reports whether the collection is in ingestion scope.
func (dc *DataCollection) IsTable() bool {
	return strings.EqualFold(dc.Config.Type, TypeTable)
}

// Collection returns the data collection with the given tag.
func (w *Workflow) Collection(tag string) (*DataCollection, bool) {
	dc, ok := w.byTag[tag]
	return dc, ok
}

// Workflow returns the named workflow.
func (p *Project) Workflow(name string) (*Workflow, bool) {
	for _, w := range p.Workflows {
		if w.Name == name {
			return w, true
		}
	}
	return nil, false
}

// Load decodes and validates a schema document. It is a pure transform: no
// filesystem access happens beyond reading r, and a returned Project is
// fully compiled (regexes, join kinds, join plan) and safe for every
// downstream stage.
func Load(r io.Reader) (*Project, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Project
	if err := dec.Decode(&p); err != nil {
		return nil, &ConfigValidationError{Field: "document", Reason: err.Error()}
	}
	if err := structValidate(&p); err != nil {
		return nil, err
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile loads a schema document from a path.
func LoadFile(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// structValidate runs the declarative (tag-based) validation pass and maps
// failures onto ConfigValidationError naming the offending field.
func structValidate(p *Project) error {
	err := structValidator.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &ConfigValidationError{
			Field:  fe.Namespace(),
			Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
		}
	}
	return &ConfigValidationError{Field: "document", Reason: err.Error()}
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

// compile performs the domain validation pass: uniqueness, regex
// compilation, wildcard group checks, join target resolution and join graph
// acyclicity. A cycle is a JoinResolutionError raised here, at load time,
// never during aggregation.
func (p *Project) compile() error {
	wfNames := make(map[string]bool)
	for wi, w := range p.Workflows {
		if wfNames[w.Name] {
			return &ConfigValidationError{
				Field:  fmt.Sprintf("workflows[%d].name", wi),
				Reason: fmt.Sprintf("duplicate workflow name %q", w.Name),
			}
		}
		wfNames[w.Name] = true

		re, err := regexp.Compile(w.DataLocation.RunsRegex)
		if err != nil {
			return &ConfigValidationError{
				Field:  fmt.Sprintf("workflows[%d].data_location.runs_regex", wi),
				Reason: err.Error(),
			}
		}
		w.DataLocation.runsRE = re

		w.byTag = make(map[string]*DataCollection, len(w.DataCollections))
		for di, dc := range w.DataCollections {
			field := fmt.Sprintf("workflows[%d].data_collections[%d]", wi, di)
			if _, dup := w.byTag[dc.Tag]; dup {
				return &ConfigValidationError{
					Field:  field + ".data_collection_tag",
					Reason: fmt.Sprintf("duplicate tag %q in workflow %q", dc.Tag, w.Name),
				}
			}
			w.byTag[dc.Tag] = dc

			if err := dc.compile(field); err != nil {
				return err
			}
		}

		// Join targets must exist in the same workflow and be Table-typed.
		for di, dc := range w.DataCollections {
			if dc.Join == nil {
				continue
			}
			field := fmt.Sprintf("workflows[%d].data_collections[%d].join", wi, di)
			for _, target := range dc.Join.WithDC {
				tdc, ok := w.byTag[target]
				if !ok {
					return &ConfigValidationError{
						Field:  field + ".with_dc",
						Reason: fmt.Sprintf("join target %q does not exist in workflow %q", target, w.Name),
					}
				}
				if !tdc.IsTable() {
					return &ConfigValidationError{
						Field:  field + ".with_dc",
						Reason: fmt.Sprintf("join target %q is not a Table collection", target),
					}
				}
				if target == dc.Tag {
					return &ConfigValidationError{
						Field:  field + ".with_dc",
						Reason: fmt.Sprintf("collection %q joins with itself", dc.Tag),
					}
				}
			}
		}

		// Every side of a join must carry the key columns, so each
		// collection records its own on_columns plus those of every
		// collection joining against it.
		for _, dc := range w.DataCollections {
			if dc.Join == nil {
				continue
			}
			dc.addJoinKeys(dc.Join.OnColumns)
			for _, target := range dc.Join.WithDC {
				w.byTag[target].addJoinKeys(dc.Join.OnColumns)
			}
		}

		// Cycle detection happens at load time so a bad join graph can
		// never abort a half-finished scan.
		if _, err := JoinPlan(w); err != nil {
			return err
		}
	}
	return nil
}

// compile validates and compiles one data collection in place.
func (dc *DataCollection) compile(field string) error {
	switch dc.Config.Scan.Mode {
	case ModeSingle:
		if dc.Config.Scan.Parameters.Filename == "" {
			return &ConfigValidationError{
				Field:  field + ".config.scan.scan_parameters.filename",
				Reason: "single mode requires a filename",
			}
		}
	case ModeRecursive:
		rc := dc.Config.Scan.Parameters.Regex
		if rc == nil || rc.Pattern == "" {
			return &ConfigValidationError{
				Field:  field + ".config.scan.scan_parameters.regex_config.pattern",
				Reason: "recursive mode requires a pattern",
			}
		}
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return &ConfigValidationError{
				Field:  field + ".config.scan.scan_parameters.regex_config.pattern",
				Reason: err.Error(),
			}
		}
		rc.compiled = re
		for _, name := range re.SubexpNames() {
			if name != "" {
				rc.groups = append(rc.groups, name)
			}
		}
	}

	if dc.IsTable() {
		switch dc.Config.Properties.Format {
		case "", "csv", "tsv", "table":
		default:
			return &ConfigValidationError{
				Field:  field + ".config.dc_specific_properties.format",
				Reason: fmt.Sprintf("unsupported format %q (want csv, tsv or table)", dc.Config.Properties.Format),
			}
		}
		if dc.Config.Properties.Format == "table" && len([]rune(dc.Config.Properties.Separator)) > 1 {
			return &ConfigValidationError{
				Field:  field + ".config.dc_specific_properties.separator",
				Reason: "separator must be a single character",
			}
		}
	}

	if dc.Join != nil {
		kind, err := table.ParseJoinKind(dc.Join.How)
		if err != nil {
			return &ConfigValidationError{
				Field:  field + ".join.how",
				Reason: err.Error(),
			}
		}
		dc.Join.kind = kind
	}
	return nil
}
