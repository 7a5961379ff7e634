package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautical-db/tablet/pkg/types"
)

func TestGetActiveMemtableNotExist(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.GetActiveMemtable()
	require.ErrorIs(t, err, ErrEntryNotExist)
}

func TestCreateMemtableThenGetActive(t *testing.T) {
	mgr := NewManager()
	mt, err := mgr.CreateMemtable(100, 1, false)
	require.NoError(t, err)
	require.NotNil(t, mt)

	active, err := mgr.GetActiveMemtable()
	require.NoError(t, err)
	assert.Same(t, mt.(*Memtable), active.(*Memtable))
}

func TestCreateMemtableIdempotent(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.CreateMemtable(100, 1, false)
	require.NoError(t, err)

	_, err = mgr.CreateMemtable(100, 1, false)
	assert.ErrorIs(t, err, ErrEntryExist)
}

func TestCreateMemtableFreezesPrevious(t *testing.T) {
	mgr := NewManager()
	first, err := mgr.CreateMemtable(100, 1, false)
	require.NoError(t, err)

	_, err = mgr.CreateMemtable(200, 1, false)
	require.NoError(t, err)

	assert.True(t, first.IsFrozen())
}

func TestCreateMemtableBackpressure(t *testing.T) {
	mgr := NewManager()
	ts := int64(0)
	for i := 0; i < DefaultMaxMemtableCount; i++ {
		ts += 100
		_, err := mgr.CreateMemtable(ts, 1, false)
		require.NoError(t, err)
	}
	ts += 100
	_, err := mgr.CreateMemtable(ts, 1, false)
	assert.ErrorIs(t, err, ErrMinorFreezeNotAllowed)
}

func TestReleaseMemtablesDropsFlushedEmpty(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.CreateMemtable(100, 1, false)
	require.NoError(t, err)
	_, err = mgr.CreateMemtable(500, 1, false)
	require.NoError(t, err)

	require.NoError(t, mgr.ReleaseMemtables(500))
	assert.Len(t, mgr.list, 1)
}

func TestReleaseMemtablesKeepsNonEmpty(t *testing.T) {
	mgr := NewManager()
	first, err := mgr.CreateMemtable(100, 1, false)
	require.NoError(t, err)
	require.NoError(t, first.InsertRow(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}))

	_, err = mgr.CreateMemtable(500, 1, false)
	require.NoError(t, err)

	require.NoError(t, mgr.ReleaseMemtables(500))
	assert.Len(t, mgr.list, 2)
}

func TestGetMemtableForReplay(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.CreateMemtable(100, 1, false)
	require.NoError(t, err)
	_, err = mgr.CreateMemtable(500, 1, false)
	require.NoError(t, err)

	mt, err := mgr.GetMemtableForReplay(300)
	require.NoError(t, err)
	assert.Equal(t, int64(100), mt.startLogTS)

	_, err = mgr.GetMemtableForReplay(10)
	assert.ErrorIs(t, err, ErrEntryNotExist)
}
