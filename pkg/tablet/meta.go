package tablet

import "github.com/nautical-db/tablet/pkg/types"

// Meta is the identity and lifecycle state carried by every tablet
// version. It is copied (never mutated in place) by Clone before any
// field changes, so a reader that already holds a *Tablet keeps seeing
// a consistent, unchanging view.
type Meta struct {
	LogStreamID types.LogStreamID
	TabletID    types.TabletID

	// DataTabletID is the tablet's own id for a data tablet, or the
	// parent data tablet's id when this tablet is an index.
	DataTabletID types.TabletID

	// StartSCN is the inclusive lower bound of log-sequence data this
	// tablet represents; it never goes backward.
	StartSCN types.SCN

	// ClogCheckpointTS: all redo at or below this ts is durable on disk.
	// Monotonically non-decreasing per tablet identity.
	ClogCheckpointTS int64

	// SnapshotVersion: data at or above this snapshot version is visible.
	SnapshotVersion types.SCN

	// MultiVersionStart is the oldest MVCC version still retained;
	// GetReadTables rejects snapshots below this with ErrSnapshotDiscarded.
	MultiVersionStart types.SCN

	CompatMode types.CompatMode
	HAStatus   types.HAStatus
	TxData     types.TxData

	BindingInfo types.BindingInfo
	AutoincSeq  types.AutoincSeq

	// MaxSyncStorageSchemaVersion must never exceed the current storage
	// schema's SchemaVersion once init has run.
	MaxSyncStorageSchemaVersion int64
}

// Clone returns a field-for-field copy of m.
func (m Meta) Clone() Meta {
	return m
}

// IsNormal reports whether the tablet is visible to DML and reads.
func (m Meta) IsNormal() bool {
	return m.TxData.TabletStatus == types.TabletStatusNormal
}
