// Package store implements the Session Store (spec.md §4.7): durable
// per-session persistence over SQLite, styled after the teacher's
// agent/session/sqlite.go raw-SQL Manager rather than its sqlc-generated
// internal/db variant (see DESIGN.md), with schema migrations run through
// goose instead of hand-maintained verifySchema checks.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/wayfarer-dev/wayfarer/internal/logging"
	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists AutomationSessions, their message history, and their
// executed steps. All writes to one session are linearizable: SQLite's
// single-writer semantics plus a dedicated connection pool of size 1
// (mirrored from the teacher's internal/db/sqlite.go) make this true
// without any application-level locking.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and brings
// its schema up to date via goose migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logging.Infof("session store initialized at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession persists a new running session and returns it with ID and
// timestamps populated (spec.md §4.7 create_session).
func (s *Store) CreateSession(ctx context.Context, userGoal, recordingID string) (*types.AutomationSession, error) {
	now := time.Now().UTC()
	sess := &types.AutomationSession{
		ID:          uuid.New().String(),
		UserGoal:    userGoal,
		RecordingID: recordingID,
		Status:      types.StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_goal, recording_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserGoal, nullableString(sess.RecordingID), sess.Status, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// AppendMessage appends msg to sessionID's history, preserving insertion
// order via the autoincrement id (spec.md §4.7 append_message; load_session
// orders by this id, not created_at, for the same reason the teacher's
// GetMessages does — second-precision timestamps can't disambiguate
// messages saved within the same second).
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, msg.Role, string(content), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return s.touch(ctx, sessionID)
}

// AppendStep records one executed step against sessionID and bumps its
// executed_step_count (spec.md §4.7 append_step). The full analysis-result
// payload is never written here — for analysis tools step.Result is stored
// without its Value; the payload lives only in the in-memory message list,
// where Layer A pass 2 later compresses it.
func (s *Store) AppendStep(ctx context.Context, sessionID string, step types.ExecutedStep) error {
	var resultJSON sql.NullString
	if step.Result != nil {
		stored := *step.Result
		if toolregistry.AnalysisTools[step.ToolName] {
			stored.Value = nil
		}
		b, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshal step result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_steps (session_id, step_number, tool_name, success, result, error_str, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, step.StepNumber, step.ToolName, boolToInt(step.Success), resultJSON, nullableString(step.ErrorStr), time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET executed_step_count = executed_step_count + 1, updated_at = ? WHERE id = ?`,
		now.Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("bump step count: %w", err)
	}
	return tx.Commit()
}

// UpdateSession persists the orchestrator's mutable session fields:
// recovery attempts, phase number, and status (spec.md §4.7 update_session).
func (s *Store) UpdateSession(ctx context.Context, sessionID string, recoveryAttempts, phaseNumber int, status types.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET recovery_attempts = ?, phase_number = ?, status = ?, updated_at = ? WHERE id = ?`,
		recoveryAttempts, phaseNumber, status, time.Now().UTC().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// UpdateUsage accumulates delta into sessionID's usage counters (spec.md
// §4.7 update_usage, §4.11).
func (s *Store) UpdateUsage(ctx context.Context, sessionID string, delta types.Usage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cache_creation_tokens = cache_creation_tokens + ?,
			cache_read_tokens = cache_read_tokens + ?,
			updated_at = ?
		WHERE id = ?`,
		delta.InputTokens, delta.OutputTokens, delta.CacheCreationTokens, delta.CacheReadTokens,
		time.Now().UTC().Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	return nil
}

// CompleteSession marks sessionID completed (spec.md §4.7 complete_session).
func (s *Store) CompleteSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		types.StatusCompleted, now.Unix(), now.Unix(), sessionID,
	)
	return err
}

// FailSession marks sessionID errored with reason (spec.md §4.7, §7).
func (s *Store) FailSession(ctx context.Context, sessionID, reason string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error_reason = ?, updated_at = ? WHERE id = ?`,
		types.StatusError, reason, now.Unix(), sessionID,
	)
	return err
}

// PauseSession marks sessionID paused, resumable later via LoadSession
// (spec.md §4.7 pause_session).
func (s *Store) PauseSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		types.StatusPaused, time.Now().UTC().Unix(), sessionID,
	)
	return err
}

// LoadedSession is a session plus its full reconstructable history, enough
// for the Orchestrator to resume it (spec.md §4.7 load_session).
type LoadedSession struct {
	Session  types.AutomationSession
	Messages []types.Message
	Steps    []types.ExecutedStep
}

// LoadSession reconstructs sessionID's state, messages ordered by insertion
// (spec.md §4.7 load_session).
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*LoadedSession, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM session_messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	var messages []types.Message
	for msgRows.Next() {
		var role, content string
		if err := msgRows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var blocks []types.Block
		if err := json.Unmarshal([]byte(content), &blocks); err != nil {
			return nil, fmt.Errorf("unmarshal message content: %w", err)
		}
		messages = append(messages, types.Message{Role: types.Role(role), Content: blocks})
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	stepRows, err := s.db.QueryContext(ctx,
		`SELECT step_number, tool_name, success, result, error_str FROM session_steps WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer stepRows.Close()

	var steps []types.ExecutedStep
	for stepRows.Next() {
		var es types.ExecutedStep
		var successInt int
		var result, errStr sql.NullString
		if err := stepRows.Scan(&es.StepNumber, &es.ToolName, &successInt, &result, &errStr); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		es.Success = successInt != 0
		es.ErrorStr = errStr.String
		if result.Valid {
			var tr types.ToolResult
			if err := json.Unmarshal([]byte(result.String), &tr); err != nil {
				return nil, fmt.Errorf("unmarshal step result: %w", err)
			}
			es.Result = &tr
		}
		steps = append(steps, es)
	}
	if err := stepRows.Err(); err != nil {
		return nil, err
	}

	return &LoadedSession{Session: *sess, Messages: messages, Steps: steps}, nil
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*types.AutomationSession, error) {
	var sess types.AutomationSession
	var recordingID, errorReason sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_goal, recording_id, status, created_at, updated_at, completed_at,
		       recovery_attempts, phase_number, executed_step_count, error_reason,
		       input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens
		FROM sessions WHERE id = ?`, sessionID,
	).Scan(
		&sess.ID, &sess.UserGoal, &recordingID, &sess.Status, &createdAt, &updatedAt, &completedAt,
		&sess.RecoveryAttempts, &sess.PhaseNumber, &sess.ExecutedStepCount, &errorReason,
		&sess.Usage.InputTokens, &sess.Usage.OutputTokens, &sess.Usage.CacheCreationTokens, &sess.Usage.CacheReadTokens,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.RecordingID = recordingID.String
	sess.ErrorReason = errorReason.String
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		sess.CompletedAt = &t
	}
	return &sess, nil
}

// ListSessions returns a page of session summaries, most recently updated
// first (spec.md §4.7 list_sessions(limit, offset)). limit <= 0 defaults to
// 50; offset < 0 is treated as 0.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]types.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_goal, status, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var sum types.SessionSummary
		var createdAt, updatedAt int64
		if err := rows.Scan(&sum.ID, &sum.UserGoal, &sum.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.CreatedAt = time.Unix(createdAt, 0).UTC()
		sum.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes sessionID and its messages/steps via cascade
// (spec.md §4.7 delete_session).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (s *Store) touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC().Unix(), sessionID)
	return err
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
