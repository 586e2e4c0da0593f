package toolregistry

// defaultDefinitions publishes the fixed tool catalog (spec.md §4.5).
func defaultDefinitions() []Definition {
	return []Definition{
		{
			Name:        ToolNavigate,
			Description: "Load a URL in the current tab.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"url": {"type": "string"},
					"waitUntil": {"type": "string", "enum": ["load", "dom_ready", "network_idle"]},
					"timeout": {"type": "integer"}
				},
				"required": ["url"]
			}`,
		},
		{
			Name:        ToolClick,
			Description: "Click an element located by selector, falling back to backups.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"selector": {"type": "string"},
					"backupSelectors": {"type": "array", "items": {"type": "string"}},
					"text": {"type": "string"},
					"waitForElement": {"type": "integer"},
					"verifyVisible": {"type": "boolean"}
				},
				"required": ["selector"]
			}`,
		},
		{
			Name:        ToolType,
			Description: "Focus an element and type text into it.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"selector": {"type": "string"},
					"backupSelectors": {"type": "array", "items": {"type": "string"}},
					"text": {"type": "string"},
					"clearFirst": {"type": "boolean"},
					"pressEnter": {"type": "boolean"},
					"waitForElement": {"type": "integer"}
				},
				"required": ["selector", "text"]
			}`,
		},
		{
			Name:        ToolSelect,
			Description: "Set the value of a <select> element.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"selector": {"type": "string"},
					"value": {"type": "string"},
					"label": {"type": "string"},
					"index": {"type": "integer"},
					"waitForElement": {"type": "integer"}
				},
				"required": ["selector"]
			}`,
		},
		{
			Name:        ToolCheckbox,
			Description: "Set a checkbox's checked state.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"selector": {"type": "string"},
					"checked": {"type": "boolean"}
				},
				"required": ["selector", "checked"]
			}`,
		},
		{
			Name:        ToolRadio,
			Description: "Select a radio button.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"selector": {"type": "string"}
				},
				"required": ["selector"]
			}`,
		},
		{
			Name:        ToolWait,
			Description: "Sleep for a fixed duration. Infallible.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"duration_ms": {"type": "integer"}
				},
				"required": ["duration_ms"]
			}`,
		},
		{
			Name:        ToolWaitForElement,
			Description: "Wait until an element reaches the given state.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"selector": {"type": "string"},
					"state": {"type": "string", "enum": ["visible", "hidden", "attached"]},
					"timeout": {"type": "integer"}
				},
				"required": ["selector", "state"]
			}`,
		},
		{
			Name:        ToolKeyPress,
			Description: "Dispatch a key press, optionally scoped to an element.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"key": {"type": "string"},
					"modifiers": {"type": "array", "items": {"type": "string"}},
					"selector": {"type": "string"}
				},
				"required": ["key"]
			}`,
		},
		{
			Name:        ToolScroll,
			Description: "Scroll the page or to a specific element.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"direction": {"type": "string"},
					"amount": {"type": "integer"},
					"toElement": {"type": "string"}
				}
			}`,
		},
		{
			Name:        ToolSubmit,
			Description: "Submit a form, optionally via a specific submit button.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"formSelector": {"type": "string"},
					"submitButtonSelector": {"type": "string"}
				}
			}`,
		},
		{
			Name:        ToolExtractContext,
			Description: "Extract structured page context (analysis tool).",
			InputSchema: `{
				"type": "object",
				"properties": {
					"full": {"type": "boolean"},
					"scrollTo": {"type": "string"},
					"maxElements": {"type": "integer"}
				}
			}`,
		},
		{
			Name:        ToolTakeSnapshot,
			Description: "Capture a viewport screenshot (analysis tool).",
			InputSchema: `{
				"type": "object",
				"properties": {
					"scrollTo": {"type": "string"}
				}
			}`,
		},
		{
			Name:        ToolDeclarePlanMetadata,
			Description: "Pseudo-tool: declare plan intent. No side effect.",
			InputSchema: `{
				"type": "object",
				"properties": {
					"planType": {"type": "string", "enum": ["intermediate", "final"]}
				},
				"required": ["planType"]
			}`,
		},
	}
}
