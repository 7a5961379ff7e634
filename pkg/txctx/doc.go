/*
Package txctx implements the memtable transaction context (component D):
the per-transaction callback list, redo log generator, and commit/abort
state machine shared by every memtable write path.

# end_code

A context's end_code only moves OK -> {COMMITTED, ROLLBACKED, KILLED,
PARTIAL_ROLLBACKED}, except that a leader takeover via ReplayToCommit
resets PARTIAL_ROLLBACKED back to OK once every callback has synced.

# Redo generation

FillRedoLog/LogSubmitted/SyncLogSucc/SyncLogFail track two cursors into
the callback list: "generated" (packed into a redo record, not yet
acknowledged) and the derived "synced" state per callback. Rollback
removes a (to_seq_no, from_seq_no] range and, if any removed callback had
already synced, sticks the context at PARTIAL_ROLLBACKED.
*/
package txctx
