// Package toolregistry implements the Tool Registry (spec.md §4.12): the
// declarative catalog of tool names and JSON-schema input contracts,
// structured the way the teacher's internal/agent/tools/registry.go
// registers and looks up tools, enriched with a real schema compiler the
// teacher doesn't use (see DESIGN.md).
package toolregistry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool names published by the Action Executor (spec.md §4.5).
const (
	ToolNavigate           = "navigate"
	ToolClick              = "click"
	ToolType               = "type"
	ToolSelect             = "select"
	ToolCheckbox           = "checkbox"
	ToolRadio              = "radio"
	ToolWait               = "wait"
	ToolWaitForElement     = "waitForElement"
	ToolKeyPress           = "keyPress"
	ToolScroll             = "scroll"
	ToolSubmit             = "submit"
	ToolExtractContext     = "extract_context"
	ToolTakeSnapshot       = "take_snapshot"
	ToolDeclarePlanMetadata = "declare_plan_metadata"
)

// AnalysisTools is the set of tools that only read page state (Glossary).
var AnalysisTools = map[string]bool{
	ToolExtractContext: true,
	ToolTakeSnapshot:   true,
}

// Definition is one tool's published contract.
type Definition struct {
	Name        string
	Description string
	InputSchema string // raw JSON Schema document
}

// Registry is the read-only catalog of tool definitions plus a compiled
// validator per tool (spec.md §5 "Tool Registry ... read-only").
type Registry struct {
	mu          sync.RWMutex
	defs        map[string]Definition
	compiled    map[string]*jsonschema.Schema
}

// New compiles schemas and returns a populated Registry.
func New() (*Registry, error) {
	r := &Registry{
		defs:     make(map[string]Definition),
		compiled: make(map[string]*jsonschema.Schema),
	}
	for _, d := range defaultDefinitions() {
		if err := r.register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(d Definition) error {
	compiler := jsonschema.NewCompiler()
	uri := "mem://" + d.Name + ".json"
	if err := compiler.AddResource(uri, strings.NewReader(d.InputSchema)); err != nil {
		return fmt.Errorf("add schema resource %s: %w", d.Name, err)
	}
	sch, err := compiler.Compile(uri)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", d.Name, err)
	}
	r.defs[d.Name] = d
	r.compiled[d.Name] = sch
	return nil
}

// Get returns a tool's definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// List returns every published tool definition.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// ValidationError reports schema-validation failures (spec.md §7 SchemaValidation).
type ValidationError struct {
	Tool     string
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q input failed validation: %v", e.Tool, e.Messages)
}

// Validate checks input against tool's compiled schema and, for any
// selector-bearing field, rejects Playwright/jQuery pseudo-selectors
// (spec.md §4.12).
func (r *Registry) Validate(toolName string, input map[string]any) error {
	r.mu.RLock()
	sch, ok := r.compiled[toolName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", toolName)
	}

	if err := sch.Validate(input); err != nil {
		return &ValidationError{Tool: toolName, Messages: []string{err.Error()}}
	}

	for _, key := range []string{"selector", "formSelector", "submitButtonSelector", "toElement"} {
		if v, ok := input[key].(string); ok {
			if err := validateSelectorString(v); err != nil {
				return &ValidationError{Tool: toolName, Messages: []string{err.Error()}}
			}
		}
	}
	if backups, ok := input["backupSelectors"].([]any); ok {
		for _, b := range backups {
			if s, ok := b.(string); ok {
				if err := validateSelectorString(s); err != nil {
					return &ValidationError{Tool: toolName, Messages: []string{err.Error()}}
				}
			}
		}
	}

	return nil
}

// validateSelectorString is a small local copy of the pseudo-selector
// rejection check so toolregistry has no import-cycle dependency on
// internal/selector; both enforce the identical contract (spec.md §4.12).
func validateSelectorString(sel string) error {
	for _, bad := range []string{":has-text(", ":visible", ":contains(", ":has(", ":text(", ":enabled"} {
		if strings.Contains(sel, bad) {
			return fmt.Errorf("selector %q uses non-CSS pseudo-selector %q", sel, bad)
		}
	}
	return nil
}


