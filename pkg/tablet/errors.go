package tablet

import "errors"

// Sentinel errors surfaced directly by the tablet object (component B).
// The tablet service (component E) wraps these with request context; the
// underlying errors.Is identity is preserved.
var (
	// ErrReplicaNotReadable is returned by GetReadTables when the
	// tablet's HAStatus forbids user reads.
	ErrReplicaNotReadable = errors.New("tablet: replica not readable")

	// ErrSnapshotDiscarded is returned by GetReadTables when the
	// requested snapshot version predates MultiVersionStart.
	ErrSnapshotDiscarded = errors.New("tablet: snapshot discarded")

	// ErrPrimaryKeyDuplicate is returned by InsertRow when a unique
	// index (including the primary key) already has a row for the key.
	ErrPrimaryKeyDuplicate = errors.New("tablet: primary key duplicate")

	// ErrEntryExist makes CreateMemtable idempotent: creating a memtable
	// that already covers the requested checkpoint is not an error.
	ErrEntryExist = errors.New("tablet: entry already exists")

	// ErrMacroRefUnderflow is raised by DecRef when a macro block's
	// reference count would go negative; it is always a hard failure.
	ErrMacroRefUnderflow = errors.New("tablet: macro block reference count underflow")
)
