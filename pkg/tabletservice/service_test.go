package tabletservice

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautical-db/tablet/pkg/lob"
	"github.com/nautical-db/tablet/pkg/registry"
	slogpkg "github.com/nautical-db/tablet/pkg/slog"
	"github.com/nautical-db/tablet/pkg/types"
)

func testSchema(withLob bool) types.StorageSchema {
	cols := []types.ColumnSchema{
		{ColumnID: 1, Name: "id", IsRowkey: true, DataType: "int"},
		{ColumnID: 2, Name: "name", DataType: "string"},
	}
	if withLob {
		cols = append(cols, types.ColumnSchema{ColumnID: 3, Name: "blob", IsLob: true, IsNullable: true, DataType: "blob"})
	}
	return types.StorageSchema{
		Columns:           cols,
		RowkeyColumnCount: 1,
		CompatMode:        types.CompatModeMySQL,
		IndexType:         types.IndexTypePrimary,
		SchemaVersion:     1,
	}
}

func newTestService(t *testing.T) *Service {
	w, err := slogpkg.Open(filepath.Join(t.TempDir(), "slog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return New(types.LogStreamID(1), registry.New(nil), w, lob.NewManager(), nil)
}

func TestBatchCreateTabletsThenAcquire(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}

	err := s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false)
	require.NoError(t, err)

	h, err := s.registry.Acquire(key)
	require.NoError(t, err)
	defer h.DecRef()
	assert.Equal(t, key, h.Get().Key())
}

func TestBatchCreateTabletsReplaySkipsExisting(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	arg := CreateArg{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)}

	require.NoError(t, s.BatchCreateTablets([]CreateArg{arg}, types.SCN(100), false))
	// A replay of the same create must not error with ErrTabletExist.
	require.NoError(t, s.BatchCreateTablets([]CreateArg{arg}, types.SCN(100), true))
}

func TestBatchCreateTabletsRejectsEmpty(t *testing.T) {
	s := newTestService(t)
	err := s.BatchCreateTablets(nil, types.SCN(100), false)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFetchTabletAutoincSeqCacheDurablyAdvances(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	start, end, err := s.FetchTabletAutoincSeqCache(key, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(9), end)

	start2, end2, err := s.FetchTabletAutoincSeqCache(key, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(10), start2)
	assert.Equal(t, int64(14), end2)

	last, err := s.slogWriter.LastIndex()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, last, uint64(2))
}

func TestFetchTabletAutoincSeqCacheNotExist(t *testing.T) {
	s := newTestService(t)
	_, _, err := s.FetchTabletAutoincSeqCache(types.TabletKey{LogStreamID: 1, TabletID: 9999}, 10)
	assert.ErrorIs(t, err, ErrTabletNotExist)
}

func TestBatchRemoveTablets(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	require.NoError(t, s.BatchRemoveTablets([]types.TabletKey{key}, false))
	_, err := s.registry.Acquire(key)
	assert.ErrorIs(t, err, registry.ErrTabletNotExist)
}

func TestBatchRemoveTabletsNotExistFails(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 9999}
	err := s.BatchRemoveTablets([]types.TabletKey{key}, false)
	assert.ErrorIs(t, err, ErrTabletNotExist)
}

func TestInsertRowThenScanSeesIt(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	runCtx := &DMLRunningCtx{LogStreamID: key.LogStreamID, TabletID: key.TabletID, SnapshotVersion: types.MaxSCN}
	row := types.Row{Key: types.RowKey{int64(1)}, Value: types.RowValue{"alice"}, CommitVersion: types.SCN(101)}
	require.NoError(t, s.InsertRow(context.Background(), runCtx, row))

	sources, err := s.TableScan(context.Background(), runCtx)
	require.NoError(t, err)
	assert.NotEmpty(t, sources)
}

func TestInsertRowRejectsNullNonNullableColumn(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	runCtx := &DMLRunningCtx{LogStreamID: key.LogStreamID, TabletID: key.TabletID, SnapshotVersion: types.MaxSCN, DefensiveChecks: true}
	row := types.Row{Key: types.RowKey{int64(1)}, Value: types.RowValue{nil}, CommitVersion: types.SCN(101)}
	err := s.InsertRow(context.Background(), runCtx, row)
	assert.ErrorIs(t, err, ErrBadNull)
}

func TestInsertRowRoutesLobColumnOutOfRow(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(true)},
	}, types.SCN(100), false))

	big := make([]byte, 1024)
	runCtx := &DMLRunningCtx{LogStreamID: key.LogStreamID, TabletID: key.TabletID, SnapshotVersion: types.MaxSCN}
	row := types.Row{Key: types.RowKey{int64(1)}, Value: types.RowValue{"alice", big}, CommitVersion: types.SCN(101)}
	require.NoError(t, s.InsertRow(context.Background(), runCtx, row))

	h, err := s.registry.Acquire(key)
	require.NoError(t, err)
	defer h.DecRef()
	exists, err := h.Get().RowkeyExists(types.RowKey{int64(1)})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetTabletWithTimeoutTimesOut(t *testing.T) {
	s := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.GetTabletWithTimeout(ctx, types.TabletKey{LogStreamID: 1, TabletID: 42})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCheckSchemaVersionEAgain(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	err := s.CheckSchemaVersion(key, 5, 2)
	assert.ErrorIs(t, err, ErrSchemaEAgain)

	err = s.CheckSchemaVersion(key, 5, 10)
	assert.ErrorIs(t, err, ErrSchemaNotUptodate)

	require.NoError(t, s.CheckSchemaVersion(key, 1, 1))
}

func TestOfflineDestroysAllTablets(t *testing.T) {
	s := newTestService(t)
	key := types.TabletKey{LogStreamID: 1, TabletID: 1001}
	require.NoError(t, s.BatchCreateTablets([]CreateArg{
		{Key: key, DataTabletID: key.TabletID, Schema: testSchema(false)},
	}, types.SCN(100), false))

	require.NoError(t, s.Offline())
}
