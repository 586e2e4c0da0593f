package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateSession_PersistsRunningSession(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "rec1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, types.StatusRunning, sess.Status)
	assert.Equal(t, "rec1", sess.RecordingID)
}

func TestAppendMessage_AndLoadSession_PreservesOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)

	first := types.Message{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: "first"}}}
	second := types.Message{Role: types.RoleAssistant, Content: []types.Block{{Type: types.BlockText, Text: "second"}}}
	require.NoError(t, st.AppendMessage(ctx, sess.ID, first))
	require.NoError(t, st.AppendMessage(ctx, sess.ID, second))

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "first", loaded.Messages[0].Content[0].Text)
	assert.Equal(t, "second", loaded.Messages[1].Content[0].Text)
}

func TestAppendStep_BumpsExecutedStepCount(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)

	step := types.ExecutedStep{
		StepNumber: 1,
		ToolName:   "navigate",
		Success:    true,
		Result:     &types.ToolResult{Success: true, Summary: "navigated"},
	}
	require.NoError(t, st.AppendStep(ctx, sess.ID, step))

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Session.ExecutedStepCount)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "navigate", loaded.Steps[0].ToolName)
	assert.True(t, loaded.Steps[0].Success)
}

func TestAppendStep_RecordsFailureErrorString(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)

	step := types.ExecutedStep{StepNumber: 1, ToolName: "click", Success: false, ErrorStr: "not found"}
	require.NoError(t, st.AppendStep(ctx, sess.ID, step))

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 1)
	assert.False(t, loaded.Steps[0].Success)
	assert.Equal(t, "not found", loaded.Steps[0].ErrorStr)
}

func TestUpdateUsage_Accumulates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)

	require.NoError(t, st.UpdateUsage(ctx, sess.ID, types.Usage{InputTokens: 10, OutputTokens: 5}))
	require.NoError(t, st.UpdateUsage(ctx, sess.ID, types.Usage{InputTokens: 3, OutputTokens: 2}))

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(13), loaded.Session.Usage.InputTokens)
	assert.Equal(t, int64(7), loaded.Session.Usage.OutputTokens)
}

func TestCompleteSession_SetsTerminalStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)
	require.NoError(t, st.CompleteSession(ctx, sess.ID))

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, loaded.Session.Status)
	require.NotNil(t, loaded.Session.CompletedAt)
}

func TestFailSession_RecordsReason(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)
	require.NoError(t, st.FailSession(ctx, sess.ID, "max_steps_reached"))

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, loaded.Session.Status)
	assert.Equal(t, "max_steps_reached", loaded.Session.ErrorReason)
}

func TestListSessions_OrdersMostRecentlyUpdatedFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	first, err := st.CreateSession(ctx, "first goal", "")
	require.NoError(t, err)
	second, err := st.CreateSession(ctx, "second goal", "")
	require.NoError(t, err)

	// updated_at has one-second resolution; cross a second boundary before
	// touching first so the ordering assertion below is not timestamp-tied.
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, st.UpdateSession(ctx, first.ID, 0, 0, types.StatusRunning))

	summaries, err := st.ListSessions(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first.ID, summaries[0].ID)
	assert.Equal(t, second.ID, summaries[1].ID)

	paged, err := st.ListSessions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, second.ID, paged[0].ID)
}

func TestDeleteSession_RemovesSessionAndHistory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "buy shoes", "")
	require.NoError(t, err)
	require.NoError(t, st.AppendMessage(ctx, sess.ID, types.Message{Role: types.RoleUser}))

	require.NoError(t, st.DeleteSession(ctx, sess.ID))

	_, err = st.LoadSession(ctx, sess.ID)
	assert.Error(t, err)
}

func TestLoadSession_UnknownIDErrors(t *testing.T) {
	st := openTestStore(t)
	_, err := st.LoadSession(context.Background(), "does-not-exist")
	assert.Error(t, err)
}
