// Package planner defines the opaque Planner Backend boundary (spec.md
// §4.11), modeled on the teacher's Provider interface in
// internal/agent/ai/provider.go, adapted from a streaming chat-provider
// contract to the single-shot "give me a plan" contract this engine needs.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// ToolSchema is one tool's contract as handed to the planner.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema []byte // raw JSON Schema
}

// Request is the opaque boundary's call shape (spec.md §4.11).
type Request struct {
	SystemPromptBlocks []string
	Messages           []types.Message
	Tools              []ToolSchema
	// CachedContext, if non-empty, is a block the backend may mark with an
	// ephemeral cache hint (Anthropic-specific; other backends omit this
	// cleanly, per spec.md §9 open question).
	CachedContext string
	MaxTokens     int
}

// Response is a planner turn: an assistant message plus usage.
type Response struct {
	Message types.Message
	Usage   types.Usage
}

// Planner is the opaque boundary to the LLM (spec.md §4.11).
type Planner interface {
	Plan(ctx context.Context, req Request) (*Response, error)
}

// Error classification, adapted from the teacher's ProviderError +
// ClassifyErrorReason keyword taxonomy (internal/agent/ai/provider.go) to
// spec.md §7's taxonomy instead of the teacher's billing/rate-limit/auth one.

// Error is a planner-level failure (spec.md §7 PlannerError).
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// IsRoleOrderingError reports whether err indicates the message history's
// role ordering was rejected by the backend — the orchestrator resets to a
// fresh turn on this, adapted from the teacher's IsRoleOrderingError.
func IsRoleOrderingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"roles must alternate", "incorrect role information", "expected alternating"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// IsContextOverflow reports whether err indicates the context window was
// exceeded — the orchestrator forces Layer-B compression on this.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"context window", "too long", "maximum context length"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// FormatToolSchemasAsText is a debugging/logging helper.
func FormatToolSchemasAsText(tools []ToolSchema) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	return b.String()
}
