package planner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRoleOrderingError(t *testing.T) {
	assert.True(t, IsRoleOrderingError(errors.New("messages: roles must alternate between user and assistant")))
	assert.True(t, IsRoleOrderingError(errors.New("Expected alternating user/assistant turns")))
	assert.False(t, IsRoleOrderingError(errors.New("rate limited")))
	assert.False(t, IsRoleOrderingError(nil))
}

func TestIsContextOverflow(t *testing.T) {
	assert.True(t, IsContextOverflow(errors.New("prompt is too long for this model")))
	assert.True(t, IsContextOverflow(errors.New("exceeds the maximum context length of 200000 tokens")))
	assert.False(t, IsContextOverflow(errors.New("invalid api key")))
	assert.False(t, IsContextOverflow(nil))
}

func TestFormatToolSchemasAsText_ListsEveryTool(t *testing.T) {
	tools := []ToolSchema{
		{Name: "navigate", Description: "Load a URL"},
		{Name: "click", Description: "Click an element"},
	}
	text := FormatToolSchemasAsText(tools)
	assert.Contains(t, text, "navigate: Load a URL")
	assert.Contains(t, text, "click: Click an element")
}
