package server

import (
	"github.com/wayfarer-dev/wayfarer/internal/eventhub"
	"github.com/wayfarer-dev/wayfarer/internal/orchestrator"
	"github.com/wayfarer-dev/wayfarer/internal/recorder"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// orchestratorEvents adapts orchestrator.Events onto the hub's broadcast
// frame, under the "automation:progress" name (spec.md §6).
type orchestratorEvents struct{ hub *eventhub.Hub }

func (e orchestratorEvents) OnProgress(sessionID string, event orchestrator.ProgressEvent, detail any) {
	e.hub.Broadcast("automation:progress", map[string]any{
		"sessionId": sessionID,
		"event":     event,
		"detail":    detail,
	})
}

// recorderEvents adapts recorder.Events onto the hub's three recording
// event names (spec.md §6).
type recorderEvents struct{ hub *eventhub.Hub }

func (e recorderEvents) OnActionCaptured(action types.RecordedAction) {
	e.hub.Broadcast("recording:action-captured", map[string]any{"action": action})
}

func (e recorderEvents) OnMaxActionsReached(ev recorder.MaxActionsReachedEvent) {
	e.hub.Broadcast("recording:max-actions-reached", map[string]any{"sessionId": ev.SessionID})
}

func (e recorderEvents) OnStopped(session types.RecordingSession) {
	e.hub.Broadcast("recording:stopped", map[string]any{"session": session})
}
