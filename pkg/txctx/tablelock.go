package txctx

import "sync"

// lockRecord is one table-lock-op callback: a transaction's claim on a
// tablet's lock state, tracked separately from ordinary row callbacks so
// clear_table_lock can release every outstanding lock at commit/abort in
// one pass.
type lockRecord struct {
	seqNo    int64
	tabletID int64
}

// TableLockMemCtx owns a transaction's lock-op records. Lock-ops are a
// separate callback flavor from row callbacks: they participate in
// rollback and in clear_table_lock at commit, but never appear in a
// RowkeyExists scan.
type TableLockMemCtx struct {
	mu      sync.Mutex
	records []lockRecord
}

// NewTableLockMemCtx returns an empty lock context.
func NewTableLockMemCtx() *TableLockMemCtx {
	return &TableLockMemCtx{}
}

// Acquire records that seqNo claimed a lock on tabletID.
func (tl *TableLockMemCtx) Acquire(tabletID int64, seqNo int64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.records = append(tl.records, lockRecord{seqNo: seqNo, tabletID: tabletID})
}

// Rollback removes every lock record whose seq-no is in (toSeqNo, fromSeqNo].
func (tl *TableLockMemCtx) Rollback(toSeqNo, fromSeqNo int64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	kept := tl.records[:0]
	for _, r := range tl.records {
		if r.seqNo > toSeqNo && r.seqNo <= fromSeqNo {
			continue
		}
		kept = append(kept, r)
	}
	tl.records = kept
}

// ClearAll releases every outstanding lock record at trans_end. The
// commit flag distinguishes the two clear_table_lock outcomes; this
// implementation's bookkeeping is identical for both (locks are released
// either way), so it is accepted but not branched on here.
func (tl *TableLockMemCtx) ClearAll(commit bool) []int64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tabletIDs := make([]int64, 0, len(tl.records))
	for _, r := range tl.records {
		tabletIDs = append(tabletIDs, r.tabletID)
	}
	tl.records = nil
	return tabletIDs
}
