package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wayfarer-dev/wayfarer/internal/logging"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

const defaultMaxTokens = 8192

// AnthropicPlanner implements Planner atop the official Anthropic SDK,
// grounded on the teacher's internal/agent/ai/api_anthropic.go request
// construction (see DESIGN.md). Unlike the teacher's streaming chat
// Provider, this is request/response — the orchestrator needs one full
// plan per turn, not incremental text.
type AnthropicPlanner struct {
	client anthropic.Client
	model  string
}

// NewAnthropicPlanner constructs a planner for the given model.
func NewAnthropicPlanner(apiKey, model string) *AnthropicPlanner {
	return &AnthropicPlanner{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Plan sends req to Claude and returns the parsed assistant turn.
func (p *AnthropicPlanner) Plan(ctx context.Context, req Request) (*Response, error) {
	messages, err := buildMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("build messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}

	if len(req.SystemPromptBlocks) > 0 {
		blocks := make([]anthropic.TextBlockParam, 0, len(req.SystemPromptBlocks))
		for i, s := range req.SystemPromptBlocks {
			b := anthropic.TextBlockParam{Text: s}
			// Anthropic cache_control ephemeral hint on the cached
			// recorded-session context block (spec.md §4.11, §9 open
			// question) — applied only here, behind this interface.
			if s == req.CachedContext && s != "" {
				b.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			blocks = append(blocks, b)
			_ = i
		}
		params.System = blocks
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				logging.Errorf("planner: failed to parse schema for tool %s: %v", t.Name, err)
				continue
			}
			tp := anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			}
			if required, ok := schema["required"].([]any); ok {
				reqStrings := make([]string, len(required))
				for i, r := range required {
					reqStrings[i], _ = r.(string)
				}
				tp.InputSchema.Required = reqStrings
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &tp})
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicErr(err)
	}

	return toResponse(msg), nil
}

func buildMessages(msgs []types.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case types.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case types.BlockToolUse:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: b.ID, Name: b.Name, Input: b.Input},
				})
			case types.BlockToolResult:
				content, _ := json.Marshal(b.Content)
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, string(content), b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue // skip empty messages, per teacher's ghost-record avoidance
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == types.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out, nil
}

func toResponse(msg *anthropic.Message) *Response {
	var blocks []types.Block
	for _, c := range msg.Content {
		switch v := c.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, types.Block{Type: types.BlockText, Text: v.Text})
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal(v.Input, &input)
			blocks = append(blocks, types.Block{Type: types.BlockToolUse, ID: v.ID, Name: v.Name, Input: input})
		}
	}
	return &Response{
		Message: types.Message{Role: types.RoleAssistant, Content: blocks},
		Usage: types.Usage{
			InputTokens:         msg.Usage.InputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}

func classifyAnthropicErr(err error) error {
	return &Error{Code: "PlannerError", Message: err.Error()}
}
