// Package compression implements Context Compression (spec.md §4.9), a
// two-layer optimizer over the message history. Layer A mirrors the
// teacher's internal/agent/runner/pruning.go two-stage trim shape; Layer B
// mirrors its turn-window retention plus compaction.go's summary style.
package compression

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wayfarer-dev/wayfarer/internal/msgbuilder"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// CharsPerTokenEstimate mirrors the teacher's pruning.go constant: a crude
// but fast token estimate used only for budget comparisons, never billing.
const CharsPerTokenEstimate = 4

// analysisCompressedPlaceholder is the constant Layer A pass 2 substitutes
// for consumed analysis-tool payloads (spec.md §4.9 pass 2).
const analysisCompressedPlaceholder = "Analysis completed successfully — full result already consumed"

const staleErrorPlaceholder = "[earlier automation error compressed]"

// Stats reports what a Layer-A pass did, for logging/testing.
type Stats struct {
	UnexecutedPairsRemoved int
	AnalysisResultsCompressed int
	StaleErrorsCompressed    int
}

// ApplyLayerA runs the three structural passes in order (spec.md §4.9).
// It is idempotent: applying it twice to its own output yields zero
// further compressions (spec.md §8 property 6).
func ApplyLayerA(messages []types.Message) ([]types.Message, Stats) {
	var stats Stats
	messages, stats.UnexecutedPairsRemoved = removeUnexecutedPairs(messages)
	messages, stats.AnalysisResultsCompressed = compressAnalysisResults(messages)
	messages, stats.StaleErrorsCompressed = compressStaleErrors(messages)
	return messages, stats
}

// removeUnexecutedPairs implements Layer A pass 1.
func removeUnexecutedPairs(messages []types.Message) ([]types.Message, int) {
	unexecutedIDs := make(map[string]bool)
	for _, m := range messages {
		for _, b := range m.Content {
			if b.Type == types.BlockToolResult && containsMarker(b.Content, msgbuilder.NotExecutedMarker) {
				unexecutedIDs[b.ToolUseID] = true
			}
		}
	}
	if len(unexecutedIDs) == 0 {
		return messages, 0
	}

	removed := 0
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		var kept []types.Block
		for _, b := range m.Content {
			if b.Type == types.BlockToolUse && unexecutedIDs[b.ID] {
				removed++
				continue
			}
			if b.Type == types.BlockToolResult && unexecutedIDs[b.ToolUseID] {
				continue
			}
			kept = append(kept, b)
		}
		if len(kept) > 0 {
			out = append(out, types.Message{Role: m.Role, Content: kept})
		}
	}
	return out, removed
}

// analysisFingerprint reports whether content looks like an analysis-tool
// payload (spec.md §4.9 pass 2 fingerprint).
func analysisFingerprint(content any) bool {
	s, ok := content.(string)
	if !ok {
		return false
	}
	if s == analysisCompressedPlaceholder {
		return false // never re-compress an already-compressed result
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	_, hasExtractedAt := v["extractedAt"]
	_, hasDom := v["dom"]
	_, hasURL := v["url"]
	if hasExtractedAt && hasDom && hasURL {
		return true
	}
	if data, ok := v["data"].(map[string]any); ok {
		if _, hasSnapshot := data["snapshot"]; hasSnapshot {
			return true
		}
	}
	// PageContext-shaped results (this repo's extract_context payloads) also
	// fingerprint via interactiveElements+stats. take_snapshot's payload is a
	// bare base64 JSON string, which matches none of these fingerprints and
	// is left uncompressed.
	_, hasElements := v["interactiveElements"]
	_, hasStats := v["stats"]
	return hasElements && hasStats
}

func compressAnalysisResults(messages []types.Message) ([]types.Message, int) {
	compressed := 0
	out := make([]types.Message, len(messages))
	for i, m := range messages {
		blocks := make([]types.Block, len(m.Content))
		for j, b := range m.Content {
			if b.Type == types.BlockToolResult && analysisFingerprint(b.Content) {
				b.Content = analysisCompressedPlaceholder
				compressed++
			}
			blocks[j] = b
		}
		out[i] = types.Message{Role: m.Role, Content: blocks}
	}
	return out, compressed
}

func compressStaleErrors(messages []types.Message) ([]types.Message, int) {
	type loc struct{ msg, block int }
	var occurrences []loc
	for i, m := range messages {
		for j, b := range m.Content {
			if b.Type == types.BlockText && strings.Contains(b.Text, msgbuilder.AutomationErrorMarker) {
				occurrences = append(occurrences, loc{i, j})
			}
		}
	}
	if len(occurrences) <= 1 {
		return messages, 0
	}

	mostRecent := occurrences[len(occurrences)-1]
	compressed := 0
	out := make([]types.Message, len(messages))
	for i, m := range messages {
		blocks := make([]types.Block, len(m.Content))
		for j, b := range m.Content {
			if b.Type == types.BlockText && strings.Contains(b.Text, msgbuilder.AutomationErrorMarker) {
				if i != mostRecent.msg || j != mostRecent.block {
					b.Text = staleErrorPlaceholder
					compressed++
				}
			}
			blocks[j] = b
		}
		out[i] = types.Message{Role: m.Role, Content: blocks}
	}
	return out, compressed
}

func containsMarker(content any, marker string) bool {
	s, ok := content.(string)
	if !ok {
		return false
	}
	return strings.Contains(s, marker)
}

// EstimateTokens estimates the message list's token count as bytes/4
// (spec.md §4.9 Layer B), exactly as the teacher's pruning.go does.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		for _, b := range m.Content {
			total += len(b.Text)
			if s, ok := b.Content.(string); ok {
				total += len(s)
			}
		}
	}
	return total / CharsPerTokenEstimate
}

// Turn is a user+assistant message pair.
type Turn struct {
	User      *types.Message
	Assistant *types.Message
}

// splitTurns groups messages into (user, assistant) turns. A leading
// assistant message with no preceding user message starts its own
// half-turn (Assistant only); this should not occur in a well-formed
// history but is handled defensively.
func splitTurns(messages []types.Message) []Turn {
	var turns []Turn
	var pending *types.Message
	for i := range messages {
		m := messages[i]
		switch m.Role {
		case types.RoleUser:
			if pending != nil {
				turns = append(turns, Turn{User: pending})
			}
			cp := m
			pending = &cp
		case types.RoleAssistant:
			if pending != nil {
				cp := m
				turns = append(turns, Turn{User: pending, Assistant: &cp})
				pending = nil
			} else {
				cp := m
				turns = append(turns, Turn{Assistant: &cp})
			}
		}
	}
	if pending != nil {
		turns = append(turns, Turn{User: pending})
	}
	return turns
}

// SummaryStats feeds the synthetic "EXECUTION HISTORY SUMMARY" message.
type SummaryStats struct {
	UserGoal        string
	Attempted       int
	Succeeded       int
	Failed          int
	SuccessToolNames []string // up to 20
	ErrorStrings     []string // up to 5
}

func buildSummaryMessage(s SummaryStats) types.Message {
	names := s.SuccessToolNames
	if len(names) > 20 {
		names = names[:20]
	}
	errs := s.ErrorStrings
	if len(errs) > 5 {
		errs = errs[:5]
	}
	text := fmt.Sprintf(
		"EXECUTION HISTORY SUMMARY\nGoal: %s\nAttempted: %d  Succeeded: %d  Failed: %d\nSuccessful tools: %s\nErrors: %s",
		s.UserGoal, s.Attempted, s.Succeeded, s.Failed,
		strings.Join(names, ", "), strings.Join(errs, " | "))
	return types.Message{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: text}}}
}

// ApplyLayerB applies the sliding-window + summary fallback (spec.md §4.9
// Layer B) when messages exceed targetTokens. recentTurns full turns are
// always retained verbatim; if fewer than recentTurns full turns would
// remain after summarization, ApplyLayerB does nothing (spec's "do nothing"
// rule, also protecting §8 property 1's pairing invariant from half-turn
// summarization).
func ApplyLayerB(messages []types.Message, targetTokens, recentTurns int, summary SummaryStats) []types.Message {
	if EstimateTokens(messages) <= targetTokens {
		return messages
	}

	turns := splitTurns(messages)
	if len(turns) <= recentTurns {
		return messages
	}

	cut := len(turns) - recentTurns
	out := make([]types.Message, 0, recentTurns*2+1)
	out = append(out, buildSummaryMessage(summary))
	for _, t := range turns[cut:] {
		if t.User != nil {
			out = append(out, *t.User)
		}
		if t.Assistant != nil {
			out = append(out, *t.Assistant)
		}
	}
	return out
}
