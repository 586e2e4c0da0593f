// Package orchestrator implements the Automation Orchestrator (spec.md
// §4.10): the control engine driving PLANNING → EXECUTING →
// (RECOVER | CONTINUE_PHASE) → COMPLETED/ERROR over one AutomationSession,
// styled after the teacher's internal/agent/runner package's turn loop
// (system prompt assembly, tool-call dispatch, role-ordering reset) adapted
// from a general chat agent to this engine's fixed plan/execute contract.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/wayfarer-dev/wayfarer/internal/bcs"
	"github.com/wayfarer-dev/wayfarer/internal/compression"
	"github.com/wayfarer-dev/wayfarer/internal/config"
	"github.com/wayfarer-dev/wayfarer/internal/executor"
	"github.com/wayfarer-dev/wayfarer/internal/logging"
	"github.com/wayfarer-dev/wayfarer/internal/msgbuilder"
	"github.com/wayfarer-dev/wayfarer/internal/pagecontext"
	"github.com/wayfarer-dev/wayfarer/internal/planner"
	"github.com/wayfarer-dev/wayfarer/internal/planparser"
	"github.com/wayfarer-dev/wayfarer/internal/store"
	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

const automationSystemPrompt = `You are driving a web browser to accomplish a user's goal. You have access ` +
	`to a recording of a human performing a related task, included below as reference. Use the available ` +
	`tools to plan and execute concrete browser actions. Call declare_plan_metadata first to classify your ` +
	`plan, then emit the ordered tool calls for this turn. If you need to inspect the page before deciding ` +
	`further steps, end your plan with extract_context or take_snapshot and describe it as partial plan, ` +
	`will continue. When the goal is fully satisfied, say this completes the task.`

const recoverySystemPrompt = `The previous step failed. Revise your plan to recover: retry with an ` +
	`adjusted approach, pick an alternate element, or take a different path toward the goal.`

// ProgressEvent is one of the spec's observer-pattern progress events
// (spec.md §6 "automation:progress").
type ProgressEvent string

const (
	EventStepStart          ProgressEvent = "step_start"
	EventStepComplete       ProgressEvent = "step_complete"
	EventStepError          ProgressEvent = "step_error"
	EventAutomationComplete ProgressEvent = "automation_complete"
)

// Events is the observer surface the Orchestrator emits progress to
// (spec.md §6). Implementations must not block meaningfully; emission must
// never affect correctness (spec.md §4.10 "Event emission").
type Events interface {
	OnProgress(sessionID string, event ProgressEvent, detail any)
}

// NoopEvents discards every event.
type NoopEvents struct{}

func (NoopEvents) OnProgress(string, ProgressEvent, any) {}

// Orchestrator drives one AutomationSession end to end.
type Orchestrator struct {
	store    *store.Store
	planner  planner.Planner
	registry *toolregistry.Registry
	exec     *executor.Executor
	tab      *bcs.Tab
	cfg      config.Config
	events   Events
}

// New builds an Orchestrator bound to tab for execution, persisting to st
// and planning through pl.
func New(st *store.Store, pl planner.Planner, registry *toolregistry.Registry, tab *bcs.Tab, cfg config.Config, events Events) *Orchestrator {
	if events == nil {
		events = NoopEvents{}
	}
	return &Orchestrator{
		store:    st,
		planner:  pl,
		registry: registry,
		exec:     executor.New(tab),
		tab:      tab,
		cfg:      cfg,
		events:   events,
	}
}

// runState is the session's in-memory working set for one Run/Resume call.
// Only the store is durable across process restarts; this is rebuilt from
// it on Resume (spec.md §4.10 "Resumption").
type runState struct {
	session          types.AutomationSession
	messages         []types.Message
	globalStepCount  int
	recoveryAttempts int
	phaseNumber      int
	// recovering marks that the next planner call follows a step failure or
	// parse error, so plan() should include the error-recovery system
	// prompt rather than the initial one (spec.md §4.10 "In RECOVER, uses
	// the error-recovery system prompt").
	recovering bool
}

// Run starts a brand new session toward userGoal, optionally grounded on a
// previously recorded session (cachedSession may be nil if none
// is supplied), and drives it to a terminal state.
func (o *Orchestrator) Run(ctx context.Context, userGoal string, recordingID string, cachedSession *types.RecordingSession) error {
	sess, err := o.store.CreateSession(ctx, userGoal, recordingID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	st := &runState{session: *sess}
	return o.drive(ctx, st, cachedSession)
}

// Resume rehydrates sessionID from the store and continues driving it
// (spec.md §4.10 "Resumption" — recovery counters and phase number are
// restored from persisted state).
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) error {
	loaded, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if loaded.Session.Status == types.StatusCompleted || loaded.Session.Status == types.StatusError {
		return fmt.Errorf("session %s is already terminal (%s)", sessionID, loaded.Session.Status)
	}

	st := &runState{
		session:          loaded.Session,
		messages:         loaded.Messages,
		globalStepCount:  loaded.Session.ExecutedStepCount,
		recoveryAttempts: loaded.Session.RecoveryAttempts,
		phaseNumber:      loaded.Session.PhaseNumber,
	}
	return o.drive(ctx, st, nil)
}

// drive runs the PLANNING/EXECUTING/RECOVER/CONTINUE_PHASE loop to
// completion (spec.md §4.10). cachedSession is only consulted on a fresh
// start, where it seeds the first planner call's cached-context block.
func (o *Orchestrator) drive(ctx context.Context, st *runState, cachedSession *types.RecordingSession) error {
	var cachedContextBlock string
	if cachedSession != nil {
		if b, err := json.Marshal(cachedSession); err == nil {
			cachedContextBlock = string(b)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return o.terminate(ctx, st, "cancelled", err)
		}

		resp, err := o.plan(ctx, st, cachedContextBlock)
		if err != nil {
			if planner.IsRoleOrderingError(err) {
				logging.Warnf("session %s: planner rejected role ordering, resetting history", st.session.ID)
				st.messages = resetToGoal(st.session.UserGoal)
				continue
			}
			return o.terminate(ctx, st, "planner_error", err)
		}

		plan, err := planparser.Parse(resp.Message, o.registry)
		if err != nil {
			logging.Warnf("session %s: plan parse error: %v", st.session.ID, err)
			if terminal, tErr := o.recover(ctx, st, fmt.Sprintf("Your last response could not be parsed as a valid plan: %v. Re-issue your plan using the available tools.", err)); terminal {
				return tErr
			}
			continue
		}

		executed, failedStep, failErr, budgetExhausted := o.executeSteps(ctx, st, plan)

		if budgetExhausted {
			return o.terminate(ctx, st, "max_steps_reached", fmt.Errorf("max_automation_steps exceeded"))
		}

		if failedStep != nil {
			reason := failErr
			if reason == "" {
				reason = "unknown error"
			}
			recoveryPrompt := msgbuilder.RecoveryPrompt(*failedStep, reason, o.currentURL(ctx))
			userTurn := msgbuilder.BuildUserTurn(*plan, executed, recoveryPrompt)
			if err := o.appendMessage(ctx, st, userTurn); err != nil {
				return o.terminate(ctx, st, "store_error", err)
			}
			if terminal, tErr := o.recover(ctx, st, ""); terminal {
				return tErr
			}
			continue
		}

		if plan.Kind == types.PlanFinal {
			final := msgbuilder.BuildUserTurn(*plan, executed, "")
			if err := o.appendMessage(ctx, st, final); err != nil {
				return o.terminate(ctx, st, "store_error", err)
			}
			return o.complete(ctx, st)
		}

		// CONTINUE_PHASE: an intermediate plan completed cleanly.
		st.phaseNumber++
		if err := o.store.UpdateSession(ctx, st.session.ID, st.recoveryAttempts, st.phaseNumber, types.StatusRunning); err != nil {
			return o.terminate(ctx, st, "store_error", err)
		}

		pageSummary, err := o.pageSummary(ctx)
		if err != nil {
			pageSummary = fmt.Sprintf("(page context unavailable: %v)", err)
		}
		prompt := msgbuilder.ContinuationPrompt(plan.Analysis, pageSummary, o.currentURL(ctx))
		userTurn := msgbuilder.BuildUserTurn(*plan, executed, prompt)
		if err := o.appendMessage(ctx, st, userTurn); err != nil {
			return o.terminate(ctx, st, "store_error", err)
		}
	}
}

// plan runs one PLANNING turn: Layer-A/B compression, then a planner call,
// persisting the resulting assistant message and usage (spec.md §4.10
// "Each planner call is preceded by Layer-A compression ... and, if needed,
// Layer-B optimization").
func (o *Orchestrator) plan(ctx context.Context, st *runState, cachedContextBlock string) (*planner.Response, error) {
	compacted, _ := compression.ApplyLayerA(st.messages)
	compacted = compression.ApplyLayerB(compacted, o.cfg.ContextTargetTokens, o.cfg.RecentTurnsToKeep, o.summaryStats(st))
	st.messages = compacted

	tools := make([]planner.ToolSchema, 0, len(o.registry.List()))
	for _, d := range o.registry.List() {
		tools = append(tools, planner.ToolSchema{Name: d.Name, Description: d.Description, InputSchema: []byte(d.InputSchema)})
	}

	systemBlocks := []string{automationSystemPrompt, "User goal: " + st.session.UserGoal}
	if cachedContextBlock != "" {
		systemBlocks = append(systemBlocks, cachedContextBlock)
	}
	if st.recovering {
		systemBlocks = append(systemBlocks, recoverySystemPrompt)
		st.recovering = false
	}

	req := planner.Request{
		SystemPromptBlocks: systemBlocks,
		Messages:           st.messages,
		Tools:              tools,
		CachedContext:      cachedContextBlock,
	}

	var planCtx context.Context = ctx
	if o.cfg.Timeouts.Planner > 0 {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeouts.Planner)
		defer cancel()
	}

	resp, err := o.callPlanner(planCtx, st, req)
	if err != nil {
		return nil, err
	}

	st.session.Usage = st.session.Usage.Add(resp.Usage)
	if err := o.store.UpdateUsage(ctx, st.session.ID, resp.Usage); err != nil {
		return nil, fmt.Errorf("persist usage: %w", err)
	}
	if err := o.appendMessage(ctx, st, resp.Message); err != nil {
		return nil, err
	}
	return resp, nil
}

// callPlanner invokes the planner with one automatic retry and exponential
// backoff on failure (spec.md §7 PlannerError: "one automatic retry by the
// orchestrator, with exponential backoff"), adapted from the teacher's
// ProfileTracker cooldown idiom in internal/agent/ai/provider.go. A
// role-ordering rejection is returned immediately without retrying, since
// drive() handles that by resetting the message history rather than
// re-asking with the same rejected ordering. A context-overflow error
// forces heavier Layer-B compression before the retry attempt.
func (o *Orchestrator) callPlanner(ctx context.Context, st *runState, req planner.Request) (*planner.Response, error) {
	backoff, err := retry.NewExponential(500 * time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("build planner backoff: %w", err)
	}
	backoff = retry.WithMaxRetries(1, backoff)

	var resp *planner.Response
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, planErr := o.planner.Plan(ctx, req)
		if planErr != nil {
			if planner.IsRoleOrderingError(planErr) {
				return planErr
			}
			if planner.IsContextOverflow(planErr) {
				logging.Warnf("session %s: planner reported context overflow, forcing heavier Layer-B compression before retry", st.session.ID)
				req.Messages = compression.ApplyLayerB(req.Messages, o.cfg.ContextTargetTokens/2, 1, o.summaryStats(st))
			}
			logging.Warnf("session %s: planner call failed (attempt %d): %v", st.session.ID, attempt, planErr)
			return retry.RetryableError(planErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// executeSteps runs plan's steps in order against the Executor, stopping at
// the first failure (spec.md §4.10 EXECUTING). It returns the executed
// steps keyed by tool_use id, and — on failure — the failed step and its
// error text. The fourth return value reports budget exhaustion
// (MAX_AUTOMATION_STEPS, spec.md §8 S4): this is a distinct, immediately
// terminal condition, not a recoverable step failure, so the caller must
// not route it through recover().
func (o *Orchestrator) executeSteps(ctx context.Context, st *runState, plan *types.Plan) (executed map[string]types.ExecutedStep, failedStep *types.PlanStep, failErr string, budgetExhausted bool) {
	executed = make(map[string]types.ExecutedStep, len(plan.Steps))

	for i := range plan.Steps {
		step := plan.Steps[i]

		if st.globalStepCount >= o.cfg.MaxAutomationSteps {
			logging.Warnf("session %s: max automation steps reached", st.session.ID)
			return executed, &step, "max_automation_steps exceeded", true
		}

		o.events.OnProgress(st.session.ID, EventStepStart, step)
		result := o.exec.Execute(ctx, step.ToolName, step.Input)
		st.globalStepCount++

		es := types.ExecutedStep{
			StepNumber: st.globalStepCount,
			ToolName:   step.ToolName,
			Success:    result.Success,
			Result:     result,
		}
		if !result.Success && result.Error != nil {
			es.ErrorStr = result.Error.Message
		}
		if err := o.store.AppendStep(ctx, st.session.ID, es); err != nil {
			logging.Errorf("session %s: failed to persist step: %v", st.session.ID, err)
		}
		executed[step.ToolUseID] = es

		if result.Success {
			o.events.OnProgress(st.session.ID, EventStepComplete, es)
			continue
		}

		o.events.OnProgress(st.session.ID, EventStepError, es)
		return executed, &step, es.ErrorStr, false
	}

	return executed, nil, "", false
}

// recover increments the recovery counter and reports whether the session
// has now exhausted its budget (spec.md §4.10 "Budget"). When it has, the
// session is persisted as errored and the caller must stop driving.
func (o *Orchestrator) recover(ctx context.Context, st *runState, extraUserPrompt string) (terminal bool, err error) {
	st.recovering = true
	st.recoveryAttempts++
	if err := o.store.UpdateSession(ctx, st.session.ID, st.recoveryAttempts, st.phaseNumber, types.StatusRunning); err != nil {
		return true, o.terminate(ctx, st, "store_error", err)
	}

	if st.recoveryAttempts > o.cfg.MaxRecoveryAttempts {
		return true, o.terminate(ctx, st, "max_recovery_exhausted", fmt.Errorf("exceeded %d recovery attempts", o.cfg.MaxRecoveryAttempts))
	}

	if extraUserPrompt != "" {
		if err := o.appendMessage(ctx, st, types.Message{
			Role:    types.RoleUser,
			Content: []types.Block{{Type: types.BlockText, Text: extraUserPrompt}},
		}); err != nil {
			return true, o.terminate(ctx, st, "store_error", err)
		}
	}
	return false, nil
}

// complete marks st's session COMPLETED (spec.md §4.10 terminal state).
func (o *Orchestrator) complete(ctx context.Context, st *runState) error {
	if err := o.store.CompleteSession(ctx, st.session.ID); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	o.events.OnProgress(st.session.ID, EventAutomationComplete, map[string]any{"status": types.StatusCompleted})
	return nil
}

// terminate marks st's session ERROR with reason and returns a wrapped err
// for the caller.
func (o *Orchestrator) terminate(ctx context.Context, st *runState, reason string, cause error) error {
	if dbErr := o.store.FailSession(ctx, st.session.ID, reason); dbErr != nil {
		logging.Errorf("session %s: failed to persist terminal error: %v", st.session.ID, dbErr)
	}
	o.events.OnProgress(st.session.ID, EventAutomationComplete, map[string]any{"status": types.StatusError, "reason": reason})
	return fmt.Errorf("session %s terminated (%s): %w", st.session.ID, reason, cause)
}

// Pause leaves the session's state intact in the store for a later Resume (spec.md
// §4.10 "Resumption"). The caller must stop driving after calling this.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) error {
	return o.store.PauseSession(ctx, sessionID)
}

func (o *Orchestrator) appendMessage(ctx context.Context, st *runState, msg types.Message) error {
	st.messages = append(st.messages, msg)
	return o.store.AppendMessage(ctx, st.session.ID, msg)
}

func (o *Orchestrator) currentURL(ctx context.Context) string {
	var url string
	_ = o.tab.EvalInPage(ctx, `location.href`, &url)
	return url
}

func (o *Orchestrator) pageSummary(ctx context.Context) (string, error) {
	pc, err := pagecontext.ExtractViewport(ctx, o.tab, 50, nil)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(pc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// summaryStats builds the Layer-B synthetic summary by counting the
// tool_result blocks in the current message history (spec.md §4.9 Layer B).
func (o *Orchestrator) summaryStats(st *runState) compression.SummaryStats {
	s := compression.SummaryStats{UserGoal: st.session.UserGoal}
	for _, m := range st.messages {
		for _, b := range m.Content {
			if b.Type != types.BlockToolResult {
				continue
			}
			s.Attempted++
			if b.IsError {
				s.Failed++
				if text, ok := b.Content.(string); ok {
					s.ErrorStrings = append(s.ErrorStrings, text)
				}
			} else {
				s.Succeeded++
			}
		}
	}
	return s
}

func resetToGoal(userGoal string) []types.Message {
	return []types.Message{{
		Role:    types.RoleUser,
		Content: []types.Block{{Type: types.BlockText, Text: "User goal: " + userGoal}},
	}}
}
