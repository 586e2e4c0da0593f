// Package planparser implements the Plan Parser (spec.md §4.6): translates
// an assistant message into an ordered Plan with a declared kind.
package planparser

import (
	"fmt"
	"strings"

	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

var intermediateMarkers = []string{"then analyze", "partial plan", "will continue"}
var finalMarkers = []string{"this completes", "task complete", "final step"}

// ParseError reports a plan that fails validation (spec.md §4.6, §8 property 11).
type ParseError struct{ Reason string }

func (e *ParseError) Error() string { return "plan parse error: " + e.Reason }

// Parse converts message's content blocks into a Plan, validating every
// step's tool name and input shape against registry.
func Parse(message types.Message, registry *toolregistry.Registry) (*types.Plan, error) {
	plan := &types.Plan{}
	var analysis strings.Builder
	order := 0

	for _, block := range message.Content {
		switch block.Type {
		case types.BlockText:
			if analysis.Len() > 0 {
				analysis.WriteString("\n")
			}
			analysis.WriteString(block.Text)

		case types.BlockToolUse:
			if block.Name == toolregistry.ToolDeclarePlanMetadata {
				plan.MetadataToolUseID = block.ID
				if pt, ok := block.Input["planType"].(string); ok {
					plan.MetadataPlanType = pt
				}
				continue
			}

			if _, ok := registry.Get(block.Name); !ok {
				return nil, &ParseError{Reason: fmt.Sprintf("unknown tool %q in step", block.Name)}
			}
			if err := registry.Validate(block.Name, block.Input); err != nil {
				return nil, &ParseError{Reason: err.Error()}
			}

			plan.Steps = append(plan.Steps, types.PlanStep{
				ToolName:  block.Name,
				ToolUseID: block.ID,
				Input:     block.Input,
				Order:     order,
			})
			order++
		}
	}

	plan.Analysis = analysis.String()

	if len(plan.Steps) == 0 {
		return nil, &ParseError{Reason: "plan has zero executable steps"}
	}

	plan.Kind = classifyKind(plan)
	return plan, nil
}

// classifyKind implements the intermediate/final detection rules of
// spec.md §4.6.
func classifyKind(plan *types.Plan) types.PlanKind {
	lower := strings.ToLower(plan.Analysis)

	last := plan.Steps[len(plan.Steps)-1]
	if toolregistry.AnalysisTools[last.ToolName] {
		return types.PlanIntermediate
	}

	for _, m := range intermediateMarkers {
		if strings.Contains(lower, m) {
			return types.PlanIntermediate
		}
	}

	for _, m := range finalMarkers {
		if strings.Contains(lower, m) {
			return types.PlanFinal
		}
	}

	return types.PlanFinal // default, per spec.md §4.6
}
