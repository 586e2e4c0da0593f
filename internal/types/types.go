// Package types holds the shared data model of the automation engine
// (spec.md §3): recordings, elements, plans, messages, and sessions.
package types

import "time"

// ActionKind discriminates a RecordedAction.
type ActionKind string

const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionInput      ActionKind = "input"
	ActionCheckbox   ActionKind = "checkbox"
	ActionRadio      ActionKind = "radio"
	ActionSelect     ActionKind = "select"
	ActionSubmit     ActionKind = "submit"
	ActionKeypress   ActionKind = "keypress"
	ActionFileUpload ActionKind = "file-upload"
	ActionTabSwitch  ActionKind = "tab-switch"
)

// ElementTarget is the record-time description of a DOM element.
type ElementTarget struct {
	Tag             string            `json:"tag"`
	PrimarySelector string            `json:"primarySelector"`
	BackupSelectors []BackupSelector  `json:"backupSelectors"`
	Text            string            `json:"text,omitempty"` // truncated to 200 chars
	BoundingBox     BoundingBox       `json:"boundingBox"`
	ParentSelector  string            `json:"parentSelector,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Disabled        bool              `json:"disabled"`
}

// BackupSelector is a ranked alternative selector.
type BackupSelector struct {
	Selector string `json:"selector"`
	Strategy string `json:"strategy"`
	Score    int    `json:"score"`
}

// BoundingBox is a DOM element's client rect.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RecordedAction is one captured user interaction.
type RecordedAction struct {
	Kind        ActionKind     `json:"kind"`
	TimestampMS int64          `json:"timestampMs"`
	Target      *ElementTarget `json:"target,omitempty"`
	Value       any            `json:"value,omitempty"` // scalar or []string
	TabID       string         `json:"tabId,omitempty"`
	TabURL      string         `json:"tabUrl,omitempty"`
	TabTitle    string         `json:"tabTitle,omitempty"`
	Effects     map[string]any `json:"effects,omitempty"`
	SnapshotPath string        `json:"snapshotPath,omitempty"`
}

// TabStats tracks per-tab recording statistics (spec.md §4.4).
type TabStats struct {
	TabID        string    `json:"tabId"`
	FirstActiveAt time.Time `json:"firstActiveAt"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	ActionCount   int       `json:"actionCount"`
}

// RecordingTab is a tab that participated in a recording session.
type RecordingTab struct {
	TabID string `json:"tabId"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// RecordingSession is an immutable-once-saved recorded workflow.
type RecordingSession struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	StartURL        string           `json:"startUrl"`
	DurationMS      int64            `json:"durationMs"`
	Actions         []RecordedAction `json:"actions"`
	Tabs            []RecordingTab   `json:"tabs"`
	VideoPath       string           `json:"videoPath,omitempty"`
	SnapshotDir     string           `json:"snapshotDir,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	TabSwitchCount  int              `json:"tabSwitchCount"`
}

// PlanKind is whether a plan expects further planning turns.
type PlanKind string

const (
	PlanIntermediate PlanKind = "intermediate"
	PlanFinal        PlanKind = "final"
)

// PlanStep is one tool invocation within a Plan.
type PlanStep struct {
	ToolName  string `json:"toolName"`
	ToolUseID string `json:"toolUseId"`
	Input     map[string]any `json:"input"`
	Order     int    `json:"order"`
}

// Plan is the parsed output of one planner turn (spec.md §4.6).
type Plan struct {
	Steps               []PlanStep `json:"steps"`
	Kind                 PlanKind   `json:"kind"`
	Analysis             string     `json:"analysis"`
	MetadataToolUseID    string     `json:"metadataToolUseId,omitempty"`
	MetadataPlanType     string     `json:"metadataPlanType,omitempty"`
}

// ToolErrorDetail is the structured error payload in a ToolResult.
type ToolErrorDetail struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ToolResult is the outcome of one executed step (spec.md §3).
type ToolResult struct {
	Success bool             `json:"success"`
	Summary string           `json:"summary,omitempty"`
	Value   any              `json:"value,omitempty"`
	Error   *ToolErrorDetail `json:"error,omitempty"`
	URL     string           `json:"url"`
}

// ExecutedStep is one step's outcome recorded against a session.
type ExecutedStep struct {
	StepNumber int         `json:"stepNumber"`
	ToolName   string      `json:"toolName"`
	Success    bool        `json:"success"`
	Result     *ToolResult `json:"result,omitempty"`
	ErrorStr   string      `json:"error,omitempty"`
}

// InteractiveElement is one element surfaced by the Page Context Extractor.
type InteractiveElement struct {
	Selector       string            `json:"selector"`
	Tag            string            `json:"tag"`
	Text           string            `json:"text,omitempty"`
	BoundingBox    BoundingBox       `json:"boundingBox"`
	ParentSelector string            `json:"parentSelector,omitempty"`
	Disabled       bool              `json:"disabled"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// FormField is one input within a Form.
type FormField struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Form is an extracted HTML form.
type Form struct {
	Selector string      `json:"selector"`
	Action   string      `json:"action,omitempty"`
	Fields   []FormField `json:"fields"`
}

// Stats summarizes a PageContext extraction.
type Stats struct {
	TotalElements       int `json:"totalElements"`
	InteractiveElements int `json:"interactiveElements"`
	Forms               int `json:"forms"`
}

// Viewport carries viewport-mode metadata.
type Viewport struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	ScrollX    int `json:"scrollX"`
	ScrollY    int `json:"scrollY"`
	MaxScrollX int `json:"maxScrollX"`
	MaxScrollY int `json:"maxScrollY"`
}

// PageContext is a structured snapshot of the current page (spec.md §4.3).
type PageContext struct {
	URL                 string               `json:"url"`
	Title                string               `json:"title"`
	InteractiveElements []InteractiveElement `json:"interactiveElements"`
	Forms                []Form               `json:"forms"`
	Stats                Stats                `json:"stats"`
	Viewport             *Viewport            `json:"viewport,omitempty"`
	ExtractedAt          time.Time            `json:"extractedAt"`
}

// Role is a message's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates a content Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one piece of message content. Only the fields relevant to its
// Type are populated.
type Block struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one turn in the conversation with the planner.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// SessionStatus is an AutomationSession's lifecycle state.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Usage accumulates token/cost counters across planner calls (spec.md §4.11).
type Usage struct {
	InputTokens        int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
}

// Pricing per million tokens (spec.md §4.11).
const (
	PriceInputPerM        = 3.0
	PriceOutputPerM       = 15.0
	PriceCacheWritePerM   = 3.75
	PriceCacheReadPerM    = 0.30
)

// Cost computes the dollar cost of the accumulated usage.
func (u Usage) Cost() float64 {
	const million = 1_000_000.0
	return float64(u.InputTokens)/million*PriceInputPerM +
		float64(u.OutputTokens)/million*PriceOutputPerM +
		float64(u.CacheCreationTokens)/million*PriceCacheWritePerM +
		float64(u.CacheReadTokens)/million*PriceCacheReadPerM
}

// Add accumulates delta into u and returns the result.
func (u Usage) Add(delta Usage) Usage {
	return Usage{
		InputTokens:         u.InputTokens + delta.InputTokens,
		OutputTokens:        u.OutputTokens + delta.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens + delta.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens + delta.CacheReadTokens,
	}
}

// AutomationSession owns a run's messages and executed steps (spec.md §3).
type AutomationSession struct {
	ID               string        `json:"id"`
	UserGoal         string        `json:"userGoal"`
	RecordingID      string        `json:"recordingId,omitempty"`
	Status           SessionStatus `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	Usage            Usage         `json:"usage"`
	RecoveryAttempts int           `json:"recoveryAttempts"`
	PhaseNumber      int           `json:"phaseNumber"`
	ExecutedStepCount int          `json:"executedStepCount"`
	ErrorReason      string        `json:"errorReason,omitempty"`
}

// SessionSummary is the list_sessions() projection (spec.md §4.7).
type SessionSummary struct {
	ID        string        `json:"id"`
	UserGoal  string        `json:"userGoal"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
