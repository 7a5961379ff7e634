package txctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautical-db/tablet/pkg/events"
	"github.com/nautical-db/tablet/pkg/types"
)

func TestWriteAuthRejectsReadOnly(t *testing.T) {
	ctx := New("tx1")
	ctx.isReadOnly = true
	err := ctx.WriteAuth(false)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestWriteAuthRejectsNotMaster(t *testing.T) {
	ctx := New("tx1")
	ctx.isMaster = false
	err := ctx.WriteAuth(true)
	assert.ErrorIs(t, err, ErrNotMaster)
}

func TestWriteAuthRejectsEnded(t *testing.T) {
	ctx := New("tx1")
	_, err := ctx.TransEnd(true, 1, 1, false, nil)
	require.NoError(t, err)

	err = ctx.WriteAuth(false)
	assert.ErrorIs(t, err, ErrAlreadyEnded)
}

func TestAppendCallbackAssignsMonotonicSeqNo(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	defer ctx.WriteDone(true)

	cb1 := ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	cb2 := ctx.AppendCallback(types.Row{Key: types.RowKey{2}, Op: types.RowOpInsert}, false)
	assert.Equal(t, int64(1), cb1.SeqNo)
	assert.Equal(t, int64(2), cb2.SeqNo)
	assert.Equal(t, 2, ctx.UnsyncedCount())
	assert.Equal(t, 2, ctx.UnsubmittedCount())
}

func TestFillRedoLogThenLogSubmitted(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.AppendCallback(types.Row{Key: types.RowKey{2}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, buf, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	require.NotEmpty(t, buf)
	assert.Len(t, scope.callbacks, 2)

	ctx.LogSubmitted(scope)
	assert.Equal(t, 0, ctx.UnsubmittedCount())

	_, _, err = ctx.FillRedoLog(0, false)
	assert.ErrorIs(t, err, ErrEAgain)
}

func TestFillRedoLogSeparatesLockOps(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.AcquireTableLock(42)
	ctx.WriteDone(true)

	rowScope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	assert.Len(t, rowScope.callbacks, 1)

	lockScope, _, err := ctx.FillRedoLog(0, true)
	require.NoError(t, err)
	assert.Len(t, lockScope.callbacks, 1)
}

func TestSyncLogSuccAdvancesChecksum(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)

	ctx.SyncLogSucc(1000, scope)
	assert.Equal(t, 0, ctx.UnsyncedCount())
	checksum, logTS := ctx.Checksum()
	assert.NotZero(t, checksum)
	assert.Equal(t, int64(1000), logTS)
}

func TestSyncLogFailMarksPartialRollbacked(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)

	ctx.SyncLogFail(scope)
	assert.True(t, ctx.IsPartialRollbacked())
	assert.Equal(t, EndCodePartialRollbacked, ctx.EndCode())
}

func TestTransEndRejectsCommitAfterPartialRollback(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)
	ctx.SyncLogFail(scope)

	_, err = ctx.TransEnd(true, 1, 1, false, nil)
	assert.ErrorIs(t, err, ErrCommitRequiresNoPartialRollback)

	_, err = ctx.TransEnd(false, 1, 1, false, nil)
	assert.NoError(t, err)
}

func TestTransEndRejectsDoubleFinalize(t *testing.T) {
	ctx := New("tx1")
	_, err := ctx.TransEnd(true, 1, 1, false, nil)
	require.NoError(t, err)

	_, err = ctx.TransEnd(true, 1, 1, false, nil)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

// TestPartialRollbackScenario mirrors the canonical example: insert rows at
// seq 1, 2, 3, then rollback the range (1, 3], leaving only seq 1 to
// commit. Only the seq-1 callback (key {1}) remains, and the commit succeeds.
func TestPartialRollbackScenario(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Value: types.RowValue{10}, Op: types.RowOpInsert}, false)
	ctx.AppendCallback(types.Row{Key: types.RowKey{2}, Value: types.RowValue{20}, Op: types.RowOpInsert}, false)
	ctx.AppendCallback(types.Row{Key: types.RowKey{3}, Value: types.RowValue{30}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	require.NoError(t, ctx.Rollback(1, 3))
	require.Len(t, ctx.callbacks, 1)
	assert.Equal(t, int64(1), ctx.callbacks[0].SeqNo)
	assert.Equal(t, types.RowKey{1}, ctx.callbacks[0].Row.Key)

	_, err := ctx.TransEnd(true, 1, 100, false, nil)
	require.NoError(t, err)
	assert.Equal(t, EndCodeCommitted, ctx.EndCode())
}

func TestRollbackAfterSyncStaysPartial(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.AppendCallback(types.Row{Key: types.RowKey{2}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)
	ctx.SyncLogSucc(500, scope)

	require.NoError(t, ctx.Rollback(0, 2))
	assert.True(t, ctx.IsPartialRollbacked())
	assert.Equal(t, EndCodePartialRollbacked, ctx.EndCode())
}

func TestReplayToCommitRequiresNoUnsynced(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	err := ctx.ReplayToCommit()
	assert.ErrorIs(t, err, ErrUnsyncedCallbacksRemain)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)
	ctx.SyncLogSucc(10, scope)

	require.NoError(t, ctx.ReplayToCommit())
	assert.True(t, ctx.isMaster)
}

func TestReplayToCommitResetsPartialRollback(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)
	ctx.SyncLogFail(scope)
	assert.Equal(t, EndCodePartialRollbacked, ctx.EndCode())
	assert.Equal(t, 0, ctx.UnsyncedCount())

	require.NoError(t, ctx.ReplayToCommit())
	assert.Equal(t, EndCodeOK, ctx.EndCode())
	assert.False(t, ctx.IsPartialRollbacked())
}

func TestCheckDestructible(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.CheckDestructible())

	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	err := ctx.CheckDestructible()
	assert.ErrorIs(t, err, ErrNotDestructible)
}

func TestAcquireTableLockClearedOnTransEnd(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AcquireTableLock(7)
	ctx.AcquireTableLock(8)
	ctx.WriteDone(true)

	unlocked, err := ctx.TransEnd(true, 1, 1, false, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 8}, unlocked)
}

func TestTransEndPublishesTxEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	ctx := New("tx1")
	ctx.Broker = broker
	require.NoError(t, ctx.WriteAuth(true))
	ctx.WriteDone(true)

	_, err := ctx.TransEnd(true, 1, 1, false, nil)
	require.NoError(t, err)

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventTxCommitted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tx.committed event")
	}
}

func TestRollbackPublishesPartialRolledEvent(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	ctx := New("tx1")
	ctx.Broker = broker
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	scope, _, err := ctx.FillRedoLog(0, false)
	require.NoError(t, err)
	ctx.LogSubmitted(scope)
	ctx.SyncLogSucc(1, scope)

	require.NoError(t, ctx.Rollback(0, 1))

	select {
	case evt := <-sub:
		assert.Equal(t, events.EventTxPartialRolled, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tx.partial_rolled_back event")
	}
}

func TestFillSyncTabletSeqRedoLogRoundTrips(t *testing.T) {
	ctx := New("tx1")
	framed := ctx.FillSyncTabletSeqRedoLog(42, 1000)

	header, payloadHeader, tabletID, newSeq, err := DecodeSyncTabletSeqRecord(framed)
	require.NoError(t, err)
	assert.Equal(t, BaseTypeSyncTabletSeq, header.BaseType)
	assert.Equal(t, NoNeedBarrier, header.ReplayBarrier)
	assert.Equal(t, int32(0), payloadHeader.Cmd)
	assert.Equal(t, int64(42), tabletID)
	assert.Equal(t, int64(1000), newSeq)
}

func TestCommitToReplayOrdersCallbacks(t *testing.T) {
	ctx := New("tx1")
	require.NoError(t, ctx.WriteAuth(true))
	ctx.AppendCallback(types.Row{Key: types.RowKey{1}, Op: types.RowOpInsert}, false)
	ctx.AppendCallback(types.Row{Key: types.RowKey{2}, Op: types.RowOpInsert}, false)
	ctx.WriteDone(true)

	ctx.CommitToReplay()
	assert.False(t, ctx.isMaster)
	require.Len(t, ctx.callbacks, 2)
	assert.Equal(t, int64(1), ctx.callbacks[0].SeqNo)
	assert.Equal(t, int64(2), ctx.callbacks[1].SeqNo)
}
