package txctx

import "errors"

var (
	// ErrNotMaster is returned by WriteAuth when the context is not the
	// leader copy (is_master == false) — writers must go through replay.
	ErrNotMaster = errors.New("txctx: not master")

	// ErrReadOnly is returned by WriteAuth on a read-only context.
	ErrReadOnly = errors.New("txctx: context is read-only")

	// ErrAlreadyEnded is returned by WriteAuth once end_code has left OK.
	ErrAlreadyEnded = errors.New("txctx: context already ended")

	// ErrEAgain mirrors OB_EAGAIN: fill_redo_log has nothing to pack.
	ErrEAgain = errors.New("txctx: eagain")

	// ErrTooBigRowSize is returned by fill_redo_log when a single
	// callback exceeds the bounded redo record size.
	ErrTooBigRowSize = errors.New("txctx: row too big for redo log record")

	// ErrCommitRequiresNoPartialRollback enforces trans_end's
	// precondition: commit=true requires partial_rollbacked == false.
	ErrCommitRequiresNoPartialRollback = errors.New("txctx: cannot commit a partially rolled back context")

	// ErrAlreadyFinalized is returned by TransEnd on a context whose
	// end_code has already left OK/PARTIAL_ROLLBACKED.
	ErrAlreadyFinalized = errors.New("txctx: context already finalized")

	// ErrUnsyncedCallbacksRemain blocks replay_to_commit while
	// unsynced_cnt != 0.
	ErrUnsyncedCallbacksRemain = errors.New("txctx: unsynced callbacks remain")

	// ErrNotDestructible is the teardown-time invariant check: a context
	// may only be destroyed once unsynced_cnt == 0 and
	// unsubmitted_cnt == 0.
	ErrNotDestructible = errors.New("txctx: context has outstanding unsynced or unsubmitted callbacks")

	// ErrChecksumMismatch is OB_CHECKSUM_ERROR: replay commit checksum
	// verification failed.
	ErrChecksumMismatch = errors.New("txctx: replay checksum mismatch")
)
