// Package txctx implements component D: the memtable transaction
// context. This is the hardest subsystem in the engine — the per-
// transaction callback list, redo-log generator, commit/abort driver,
// and partial-rollback machinery that every DML path in
// pkg/tabletservice writes through.
package txctx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"github.com/nautical-db/tablet/pkg/events"
	"github.com/nautical-db/tablet/pkg/log"
	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/types"
)

// maxRedoLogRecordBytes bounds a single redo log record packed by
// FillRedoLog (the spec gives "~1.875 MB").
const maxRedoLogRecordBytes = 1875 * 1000

// BaseType tags which flavor of record a context-produced payload
// carries, the first field of every ObLogBaseHeader.
type BaseType int32

const (
	// BaseTypeRedo is an ordinary row-callback redo record.
	BaseTypeRedo BaseType = iota
	// BaseTypeSyncTabletSeq is the sync-tablet-seq MSD record: the
	// context's second MSD-specific callback kind alongside
	// table-lock-op. Unlike table-lock-op it is never appended to the
	// callback list — it is a single-value write committed
	// synchronously, not replayed per row.
	BaseTypeSyncTabletSeq
)

func (b BaseType) String() string {
	switch b {
	case BaseTypeRedo:
		return "REDO"
	case BaseTypeSyncTabletSeq:
		return "SYNC_TABLET_SEQ"
	default:
		return "UNKNOWN"
	}
}

// ReplayBarrier is the second ObLogBaseHeader field: whether a replayer
// must drain every prior record before applying this one.
type ReplayBarrier int32

const (
	// NoNeedBarrier lets the replayer apply the record without waiting
	// on prior records to finish applying.
	NoNeedBarrier ReplayBarrier = iota
	// StrictBarrier forces the replayer to apply every prior record
	// before this one.
	StrictBarrier
)

// ObLogBaseHeader begins every record this package frames: a base type
// tag plus a replay barrier.
type ObLogBaseHeader struct {
	BaseType      BaseType
	ReplayBarrier ReplayBarrier
}

// PayloadHeader follows ObLogBaseHeader for DDL-flavored commands.
// Ordinary row redo and sync-tablet-seq records carry Cmd == 0.
type PayloadHeader struct {
	Cmd int32
}

// encodeFrame writes ObLogBaseHeader, then PayloadHeader, then payload.
func encodeFrame(base BaseType, barrier ReplayBarrier, cmd int32, payload []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(base))
	binary.Write(&buf, binary.LittleEndian, int32(barrier))
	binary.Write(&buf, binary.LittleEndian, cmd)
	buf.Write(payload)
	return buf.Bytes()
}

// EndCode is the transaction context's lifecycle state. Transitions are
// monotonic: once EndCode leaves OK, it returns to OK only via
// ReplayToCommit on leader takeover.
type EndCode int32

const (
	EndCodeOK EndCode = iota
	EndCodeCommitted
	EndCodeRollbacked
	EndCodeKilled
	EndCodePartialRollbacked
)

func (e EndCode) String() string {
	switch e {
	case EndCodeOK:
		return "OK"
	case EndCodeCommitted:
		return "COMMITTED"
	case EndCodeRollbacked:
		return "ROLLBACKED"
	case EndCodeKilled:
		return "KILLED"
	case EndCodePartialRollbacked:
		return "PARTIAL_ROLLBACKED"
	default:
		return "UNKNOWN"
	}
}

// Callback is one entry in the transaction's append-only callback list:
// a row-key, operation, new value (or update-diff), and a sequence
// number monotonic within the owning context.
type Callback struct {
	SeqNo    int64
	Row      types.Row
	IsLockOp bool

	synced bool
	logTS  int64
}

// CallbackScope names a contiguous range of the callback list, returned
// by FillRedoLog and consumed by LogSubmitted/SyncLogSucc/SyncLogFail.
type CallbackScope struct {
	callbacks []*Callback
}

// Last returns the highest sequence number in the scope, or 0 if empty.
func (s *CallbackScope) Last() int64 {
	if len(s.callbacks) == 0 {
		return 0
	}
	return s.callbacks[len(s.callbacks)-1].SeqNo
}

// Context is the per-transaction memtable write buffer. Its RW latch
// (mu) is taken shared or exclusive by WriteAuth/WriteDone and held
// across each DML call path; a separate lock (syncMu) serializes the
// redo-sync bookkeeping methods (FillRedoLog, LogSubmitted, SyncLogSucc,
// SyncLogFail, Rollback) so they never interleave.
type Context struct {
	mu     sync.RWMutex
	syncMu sync.Mutex

	TxID string

	refCnt     int32
	isReadOnly bool
	isMaster   bool

	endCodeMu         sync.Mutex
	endCode           EndCode
	partialRollbacked bool

	callbacks    []*Callback
	generatedIdx int // count packed into redo buffer so far
	syncedIdx    int // not advanced; each Callback's synced flag records acknowledgement
	nextSeqNo    int64

	checksum      uint32
	checksumLogTS int64

	unsubmittedCnt int
	unsyncedCnt    int

	tableLock *TableLockMemCtx

	replayMu sync.Mutex // byte-lock: single-writer replay serialization

	// Broker, if set, receives the tx lifecycle events TransEnd and
	// Rollback publish. Nil disables publishing; callers that want
	// observability set it after New returns.
	Broker *events.Broker
}

// New creates a leader-side (is_master=true) transaction context.
func New(txID string) *Context {
	return &Context{
		TxID:      txID,
		isMaster:  true,
		refCnt:    1,
		tableLock: NewTableLockMemCtx(),
	}
}

// EndCode returns the context's current end_code under its latch.
func (c *Context) EndCode() EndCode {
	c.endCodeMu.Lock()
	defer c.endCodeMu.Unlock()
	return c.endCode
}

// IsPartialRollbacked reports whether the context has ever been marked
// PARTIAL_ROLLBACKED, even if a later replay_to_commit reset end_code.
func (c *Context) IsPartialRollbacked() bool {
	c.endCodeMu.Lock()
	defer c.endCodeMu.Unlock()
	return c.partialRollbacked
}

// WriteAuth acquires the shared (exclusive=false) or exclusive latch and
// checks, under that latch, that the context accepts writes:
// !is_read_only && end_code == OK && is_master. Any check failure
// releases the latch and returns the matching error.
func (c *Context) WriteAuth(exclusive bool) error {
	if exclusive {
		c.mu.Lock()
	} else {
		c.mu.RLock()
	}

	if c.isReadOnly {
		c.WriteDone(exclusive)
		return ErrReadOnly
	}
	if c.EndCode() != EndCodeOK {
		c.WriteDone(exclusive)
		return ErrAlreadyEnded
	}
	if !c.isMaster {
		c.WriteDone(exclusive)
		return ErrNotMaster
	}
	return nil
}

// WriteDone releases the latch acquired by a successful WriteAuth.
func (c *Context) WriteDone(exclusive bool) {
	if exclusive {
		c.mu.Unlock()
	} else {
		c.mu.RUnlock()
	}
}

// AppendCallback appends a row callback between a WriteAuth/WriteDone
// pair, assigning it the next monotonic sequence number.
func (c *Context) AppendCallback(row types.Row, isLockOp bool) *Callback {
	c.nextSeqNo++
	cb := &Callback{SeqNo: c.nextSeqNo, Row: row, IsLockOp: isLockOp}
	c.callbacks = append(c.callbacks, cb)
	c.unsubmittedCnt++
	c.unsyncedCnt++
	return cb
}

func encodeCallback(cb *Callback) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, cb.SeqNo)
	binary.Write(&buf, binary.LittleEndian, int32(cb.Row.Op))
	fmt.Fprintf(&buf, "%v|%v", cb.Row.Key, cb.Row.Value)
	return buf.Bytes()
}

// FillRedoLog packs callbacks beyond the "generated" cursor into at most
// one bounded-size redo log record. logForLockNode selects which flavor
// of callback this pass packs — the driver alternates between ordinary
// and lock-op passes. Returns ErrEAgain if there is nothing of the
// requested flavor to pack, or ErrTooBigRowSize if a single callback
// exceeds the bound.
func (c *Context) FillRedoLog(maxBytes int, logForLockNode bool) (*CallbackScope, []byte, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if maxBytes <= 0 {
		maxBytes = maxRedoLogRecordBytes
	}

	scope := &CallbackScope{}
	var buf bytes.Buffer
	for i := c.generatedIdx; i < len(c.callbacks); i++ {
		cb := c.callbacks[i]
		if cb.IsLockOp != logForLockNode {
			continue
		}
		encoded := encodeCallback(cb)
		if len(encoded) > maxBytes {
			return nil, nil, ErrTooBigRowSize
		}
		if buf.Len()+len(encoded) > maxBytes {
			break
		}
		buf.Write(encoded)
		scope.callbacks = append(scope.callbacks, cb)
	}
	if len(scope.callbacks) == 0 {
		return nil, nil, ErrEAgain
	}
	framed := encodeFrame(BaseTypeRedo, NoNeedBarrier, 0, buf.Bytes())
	metrics.RedoLogBytesGenerated.Add(float64(len(framed)))
	return scope, framed, nil
}

// FillSyncTabletSeqRedoLog produces a framed sync-tablet-seq MSD record:
// {tablet_id, new_seq} under NO_NEED_BARRIER. It does not
// touch the callback list — the caller is responsible for committing
// this record via the log handler and waiting for majority
// acknowledgement before relying on new_seq (see
// pkg/tabletservice.Service.FetchTabletAutoincSeqCache, the sole caller,
// which builds this record in the persist callback it hands to
// pkg/tablet.FetchTabletAutoincSeqCache).
func (c *Context) FillSyncTabletSeqRedoLog(tabletID, newSeq int64) []byte {
	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, tabletID)
	binary.Write(&payload, binary.LittleEndian, newSeq)
	return encodeFrame(BaseTypeSyncTabletSeq, NoNeedBarrier, 0, payload.Bytes())
}

// DecodeSyncTabletSeqRecord parses a record produced by
// FillSyncTabletSeqRedoLog back into its header and payload fields,
// for replay.
func DecodeSyncTabletSeqRecord(record []byte) (ObLogBaseHeader, PayloadHeader, int64, int64, error) {
	r := bytes.NewReader(record)
	var baseType, barrier, cmd int32
	if err := binary.Read(r, binary.LittleEndian, &baseType); err != nil {
		return ObLogBaseHeader{}, PayloadHeader{}, 0, 0, fmt.Errorf("txctx: DecodeSyncTabletSeqRecord: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &barrier); err != nil {
		return ObLogBaseHeader{}, PayloadHeader{}, 0, 0, fmt.Errorf("txctx: DecodeSyncTabletSeqRecord: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &cmd); err != nil {
		return ObLogBaseHeader{}, PayloadHeader{}, 0, 0, fmt.Errorf("txctx: DecodeSyncTabletSeqRecord: %w", err)
	}
	var tabletID, newSeq int64
	if err := binary.Read(r, binary.LittleEndian, &tabletID); err != nil {
		return ObLogBaseHeader{}, PayloadHeader{}, 0, 0, fmt.Errorf("txctx: DecodeSyncTabletSeqRecord: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &newSeq); err != nil {
		return ObLogBaseHeader{}, PayloadHeader{}, 0, 0, fmt.Errorf("txctx: DecodeSyncTabletSeqRecord: %w", err)
	}
	header := ObLogBaseHeader{BaseType: BaseType(baseType), ReplayBarrier: ReplayBarrier(barrier)}
	return header, PayloadHeader{Cmd: cmd}, tabletID, newSeq, nil
}

// LogSubmitted advances the generated cursor past every callback packed
// into scope and decrements the unsubmitted count by that many.
func (c *Context) LogSubmitted(scope *CallbackScope) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	if len(scope.callbacks) == 0 {
		return
	}
	last := scope.callbacks[len(scope.callbacks)-1]
	for i := c.generatedIdx; i < len(c.callbacks); i++ {
		if c.callbacks[i] == last {
			c.generatedIdx = i + 1
			break
		}
	}
	c.unsubmittedCnt -= len(scope.callbacks)
}

// SyncLogSucc marks each callback in scope synced (lowering the unsynced
// count by one each), sets its durable log-ts, and folds it into the running
// checksum. If the context has already been finalized without being
// partially rolled back, this is a no-op.
func (c *Context) SyncLogSucc(logTS int64, scope *CallbackScope) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if c.EndCode() != EndCodeOK && !c.IsPartialRollbacked() {
		return
	}

	for _, cb := range scope.callbacks {
		cb.synced = true
		cb.logTS = logTS
		c.checksum = crc32.Update(c.checksum, crc32.IEEETable, encodeCallback(cb))
		c.unsyncedCnt--
	}
	if len(scope.callbacks) > 0 {
		c.checksumLogTS = logTS
	}
}

// SyncLogFail flags the context PARTIAL_ROLLBACKED, drops the callbacks
// in scope, and forces the next finalization to be commit=false.
func (c *Context) SyncLogFail(scope *CallbackScope) {
	c.syncMu.Lock()
	dropped := make(map[*Callback]bool, len(scope.callbacks))
	for _, cb := range scope.callbacks {
		dropped[cb] = true
	}
	kept := c.callbacks[:0]
	for _, cb := range c.callbacks {
		if dropped[cb] {
			if !cb.synced {
				c.unsyncedCnt--
			}
			continue
		}
		kept = append(kept, cb)
	}
	c.callbacks = kept
	c.syncMu.Unlock()

	c.endCodeMu.Lock()
	c.partialRollbacked = true
	if c.endCode == EndCodeOK {
		c.endCode = EndCodePartialRollbacked
	}
	c.endCodeMu.Unlock()

	metrics.TxPartialRollbacksTotal.Inc()
}

// TransEnd is the single finalization primitive. commit=true requires
// partial_rollbacked == false. It CASes end_code from OK|PARTIAL_ROLLBACKED
// to the target, releases table locks via clear_table_lock, and — on a
// replayed commit — verifies the running checksum against expectedChecksum
// when expectedChecksum is non-nil.
func (c *Context) TransEnd(commit bool, transVersion types.SCN, finalLogTS int64, isReplay bool, expectedChecksum *uint32) ([]int64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TxCommitDuration)

	c.mu.Lock()
	defer c.mu.Unlock()

	if commit && c.IsPartialRollbacked() {
		return nil, ErrCommitRequiresNoPartialRollback
	}

	c.endCodeMu.Lock()
	if c.endCode != EndCodeOK && c.endCode != EndCodePartialRollbacked {
		c.endCodeMu.Unlock()
		return nil, ErrAlreadyFinalized
	}
	target := EndCodeRollbacked
	if commit {
		target = EndCodeCommitted
	}
	c.endCode = target
	c.endCodeMu.Unlock()

	if commit && isReplay && expectedChecksum != nil {
		if c.checksum != *expectedChecksum {
			return nil, ErrChecksumMismatch
		}
	}

	unlockedTablets := c.tableLock.ClearAll(commit)
	metrics.TxOutcomesTotal.WithLabelValues(target.String()).Inc()
	log.WithTx(c.TxID).Debug().Bool("commit", commit).Int("unlocked_tablets", len(unlockedTablets)).Msg("transaction ended")

	if target == EndCodeCommitted {
		c.publish(events.EventTxCommitted, "transaction committed")
	} else {
		c.publish(events.EventTxRolledBack, "transaction rolled back")
	}
	return unlockedTablets, nil
}

// publish is a no-op when Broker is nil, so Context works without an
// observability backend attached (tests, throwaway contexts).
func (c *Context) publish(evType events.EventType, msg string) {
	if c.Broker == nil {
		return
	}
	c.Broker.Publish(&events.Event{Type: evType, Message: fmt.Sprintf("%s: %s", c.TxID, msg)})
}

// Kill forcibly ends the context outside the normal commit/rollback
// path (trans_kill).
func (c *Context) Kill() {
	c.endCodeMu.Lock()
	defer c.endCodeMu.Unlock()
	c.endCode = EndCodeKilled
}

// Rollback removes callbacks whose seq-no is in (toSeqNo, fromSeqNo],
// resets the generated cursor to the earliest remaining un-synced
// callback, and rolls back the corresponding lock records. If any
// removed callback was already synced, the context becomes
// PARTIAL_ROLLBACKED. Calling Rollback a second time with the same
// arguments on an unchanged context is a no-op (idempotent).
func (c *Context) Rollback(toSeqNo, fromSeqNo int64) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	anySynced := false
	removed := 0
	kept := c.callbacks[:0]
	for _, cb := range c.callbacks {
		if cb.SeqNo > toSeqNo && cb.SeqNo <= fromSeqNo {
			if cb.synced {
				anySynced = true
			}
			removed++
			continue
		}
		kept = append(kept, cb)
	}
	c.callbacks = kept
	c.unsubmittedCnt -= removed

	c.generatedIdx = len(c.callbacks)
	for i, cb := range c.callbacks {
		if !cb.synced {
			c.generatedIdx = i
			break
		}
	}

	if anySynced {
		c.endCodeMu.Lock()
		c.partialRollbacked = true
		if c.endCode == EndCodeOK {
			c.endCode = EndCodePartialRollbacked
		}
		c.endCodeMu.Unlock()
		c.publish(events.EventTxPartialRolled, "partial rollback synced callbacks")
	}

	c.tableLock.Rollback(toSeqNo, fromSeqNo)
	return nil
}

// ReplayBegin brackets the start of a replayed record; the byte-lock
// serializes replay with a single writer.
func (c *Context) ReplayBegin(logTS int64) {
	c.replayMu.Lock()
}

// ReplayEnd brackets the end of a replayed record.
func (c *Context) ReplayEnd(isSucc bool, logTS int64) {
	c.replayMu.Unlock()
}

// ReplayToCommit performs leader takeover: asserts no unsynced
// callbacks, clears the replay flag, and resets the log generator. It
// succeeds only if unsynced_cnt == 0, and is the sole path by which
// PARTIAL_ROLLBACKED resets to OK.
func (c *Context) ReplayToCommit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unsyncedCnt != 0 {
		return ErrUnsyncedCallbacksRemain
	}
	c.isMaster = true
	c.generatedIdx = 0

	c.endCodeMu.Lock()
	if c.endCode == EndCodePartialRollbacked {
		c.endCode = EndCodeOK
		c.partialRollbacked = false
	}
	c.endCodeMu.Unlock()
	return nil
}

// CommitToReplay revokes leadership: clears the master flag and sorts the
// single callback list by sequence number so replay observes the same
// order a leader would have produced.
func (c *Context) CommitToReplay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isMaster = false
	sort.Slice(c.callbacks, func(i, j int) bool {
		return c.callbacks[i].SeqNo < c.callbacks[j].SeqNo
	})
}

// AcquireTableLock records a table-lock-op callback and its associated
// MSD lock record in one step.
func (c *Context) AcquireTableLock(tabletID int64) *Callback {
	cb := c.AppendCallback(types.Row{Op: types.RowOpLock}, true)
	c.tableLock.Acquire(tabletID, cb.SeqNo)
	return cb
}

// CheckDestructible enforces the teardown invariant: unsynced_cnt == 0
// and unsubmitted_cnt == 0. A non-zero count at destruction is fatal per
// the spec; callers should log and abort rather than silently ignore
// this error.
func (c *Context) CheckDestructible() error {
	if c.unsyncedCnt != 0 || c.unsubmittedCnt != 0 {
		return fmt.Errorf("%w: unsynced=%d unsubmitted=%d", ErrNotDestructible, c.unsyncedCnt, c.unsubmittedCnt)
	}
	return nil
}

// Checksum returns the running checksum and the log-ts it covers up to,
// so a persistent context snapshot can validate replay mid-stream.
func (c *Context) Checksum() (uint32, int64) {
	return c.checksum, c.checksumLogTS
}

// UnsyncedCount and UnsubmittedCount expose the teardown counters for
// diagnostics and tests.
func (c *Context) UnsyncedCount() int    { return c.unsyncedCnt }
func (c *Context) UnsubmittedCount() int { return c.unsubmittedCnt }
