package recordingstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-dev/wayfarer/internal/types"
)

func TestSaveLoad_RoundTrips(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	session := types.RecordingSession{
		ID:       "rec1",
		Name:     "checkout flow",
		StartURL: "https://example.com/cart",
		Actions:  []types.RecordedAction{{}},
	}
	require.NoError(t, store.Save(session))

	loaded, err := store.Load("rec1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, session.Name, loaded.Name)
	assert.Equal(t, session.StartURL, loaded.StartURL)
	assert.Len(t, loaded.Actions, 1)
}

func TestSave_RejectsEmptyID(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	err = store.Save(types.RecordingSession{})
	assert.Error(t, err)
}

func TestLoad_MissingIDErrors(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("does-not-exist")
	assert.Error(t, err)
}

func TestList_OrdersMostRecentFirst(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(types.RecordingSession{ID: "first"}))
	require.NoError(t, store.Save(types.RecordingSession{ID: "second"}))

	ids, err := store.List()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "second", ids[0])
	assert.Equal(t, "first", ids[1])
}

func TestDelete_RemovesSnapshotAndIsIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(types.RecordingSession{ID: "rec1"}))
	require.NoError(t, store.Delete("rec1"))

	_, err = store.Load("rec1")
	assert.Error(t, err)

	// Deleting an already-absent snapshot is not an error.
	assert.NoError(t, store.Delete("rec1"))
}
