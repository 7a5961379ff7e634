package tabletservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautical-db/tablet/pkg/types"
)

func TestMigrateCreateTablet(t *testing.T) {
	src := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 2001}
	require.NoError(t, src.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	srcHandle, err := src.registry.Acquire(key)
	require.NoError(t, err)
	img, err := srcHandle.Get().Serialize()
	srcHandle.DecRef()
	require.NoError(t, err)

	dst := newTestService(t)
	h, err := dst.MigrateCreateTablet(MigrateParam{Key: key, SerializedImage: img})
	require.NoError(t, err)
	assert.Equal(t, key, h.Get().Key())
}

func TestMigrateCreateTabletRejectsKeyMismatch(t *testing.T) {
	src := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 2001}
	require.NoError(t, src.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))
	srcHandle, err := src.registry.Acquire(key)
	require.NoError(t, err)
	img, err := srcHandle.Get().Serialize()
	srcHandle.DecRef()
	require.NoError(t, err)

	dst := newTestService(t)
	wrongKey := types.TabletKey{LogStreamID: 1, TabletID: 9999}
	_, err = dst.MigrateCreateTablet(MigrateParam{Key: wrongKey, SerializedImage: img})
	assert.Error(t, err)
}

func TestRebuildCreateTabletKeepOldThenTrim(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 2001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	h, err := s.registry.Acquire(key)
	require.NoError(t, err)
	img, err := h.Get().Serialize()
	h.DecRef()
	require.NoError(t, err)

	rebuilt, err := s.RebuildCreateTablet(MigrateParam{Key: key, SerializedImage: img}, true)
	require.NoError(t, err)
	assert.NotNil(t, rebuilt.Get().NextTablet)

	require.NoError(t, s.TrimRebuildTablet(key))
	h2, err := s.registry.Acquire(key)
	require.NoError(t, err)
	defer h2.DecRef()
	assert.Nil(t, h2.Get().NextTablet)
}

func TestTxReplayHooksCreateLifecycle(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 2001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	var hooks TxReplayHooks = s
	require.NoError(t, hooks.OnPrepareCreate(key, "tx1", 200))
	require.NoError(t, hooks.OnRedoCreate(key, "tx1", 200))
	require.NoError(t, hooks.OnCommitCreate(key, "tx1", 200))

	h, err := s.registry.Acquire(key)
	require.NoError(t, err)
	defer h.DecRef()
	assert.True(t, h.Get().Meta().IsNormal())
}

func TestTxReplayHooksAbortCreateRemovesTablet(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 2001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	require.NoError(t, s.OnAbortCreate(key, "tx1"))
	_, err := s.registry.Acquire(key)
	assert.Error(t, err)
}
