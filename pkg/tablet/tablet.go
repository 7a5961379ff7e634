// Package tablet implements component B: the per-partition object
// bundling meta, storage schema, table store, read-info, and autoinc
// sequence. A Tablet is versioned by copy-on-write: every mutation path
// clones the current version, mutates the clone, and hands it back to the
// caller (component E) to publish via the registry's compare-and-swap.
package tablet

import (
	"fmt"
	"sync"

	"github.com/nautical-db/tablet/pkg/types"
)

// ReadSource is anything GetReadTables can hand back to a scan: either a
// frozen/active memtable or an on-disk SSTable.
type ReadSource interface {
	// Kind identifies the source for diagnostics and ordering decisions.
	Kind() string
}

// sstableSource adapts *SSTable to ReadSource.
type sstableSource struct{ *SSTable }

func (sstableSource) Kind() string { return "sstable" }

// ActiveMemtable is the subset of the memtable manager's active memtable
// that the tablet object writes through. It is satisfied by
// *memtable.Memtable without pkg/tablet importing pkg/memtable.
type ActiveMemtable interface {
	ReadSource
	InsertRow(row types.Row) error
	UpdateRow(row types.Row) error
	LockRow(key types.RowKey) error
	RowkeyExists(key types.RowKey) (bool, error)
	IsFrozen() bool
	EndLogTS() int64
}

// MemtableManager is the per-tablet memtable list (component C) that a
// Tablet delegates writes and read-table resolution to. Satisfied by
// *memtable.Manager.
type MemtableManager interface {
	GetActiveMemtable() (ActiveMemtable, error)
	CreateMemtable(clogCheckpointTS int64, schemaVersion int64, forReplay bool) (ActiveMemtable, error)
	ReleaseMemtables(logTS int64) error
	ReadSources(snapshotVersion types.SCN) ([]ReadSource, error)
	GetMultiSourceDataUnit(dst *types.TxData) error
}

// Tablet bundles meta, storage schema, table store, read-info, and
// autoinc sequence behind one handle. All mutation paths go through
// Clone so that a *Tablet already published in the registry never
// changes under a reader.
type Tablet struct {
	mu sync.RWMutex

	meta          Meta
	storageSchema types.StorageSchema
	tableStore    TableStore
	readInfo      types.ReadInfo
	memtableMgr   MemtableManager

	// NextTablet forms a bounded (length <= 2) linked list during a
	// rebuild window; it is nil outside of rebuild_create_tablet.
	NextTablet *Tablet
}

// New constructs a from-scratch tablet (the "init from scratch" path) and
// creates its first active memtable at clog_checkpoint_ts (= createSCN).
// If the schema has no rowkey columns requiring an initial major
// SSTable, the table store starts empty ("no-major").
func New(
	key types.TabletKey,
	dataTabletID types.TabletID,
	createSCN types.SCN,
	snapshotVersion types.SCN,
	schema types.StorageSchema,
	compatMode types.CompatMode,
	memtableMgr MemtableManager,
) (*Tablet, error) {
	if memtableMgr == nil {
		return nil, fmt.Errorf("tablet: New: memtable manager is required")
	}
	t := &Tablet{
		meta: Meta{
			LogStreamID:                 key.LogStreamID,
			TabletID:                    key.TabletID,
			DataTabletID:                dataTabletID,
			StartSCN:                    createSCN,
			ClogCheckpointTS:            int64(createSCN),
			SnapshotVersion:             snapshotVersion,
			MultiVersionStart:           createSCN,
			CompatMode:                  compatMode,
			TxData:                      types.TxData{TabletStatus: types.TabletStatusCreating},
			MaxSyncStorageSchemaVersion: schema.SchemaVersion,
		},
		storageSchema: schema,
		readInfo:      readInfoFromSchema(schema),
		memtableMgr:   memtableMgr,
	}
	if _, err := memtableMgr.CreateMemtable(t.meta.ClogCheckpointTS, schema.SchemaVersion, false); err != nil && err != ErrEntryExist {
		return nil, fmt.Errorf("tablet: New: %w", err)
	}
	return t, nil
}

func readInfoFromSchema(schema types.StorageSchema) types.ReadInfo {
	proj := make([]int64, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		proj = append(proj, c.ColumnID)
	}
	return types.ReadInfo{
		ColumnProjection: proj,
		RowkeyLength:     schema.RowkeyColumnCount,
		IsOracleMode:     schema.CompatMode == types.CompatModeOracle,
	}
}

// Clone returns a shallow copy of t: a new Tablet value with its own
// mutex, a copied Meta, a cloned TableStore (new slices, shared SSTable
// pointers), and the same schema/read-info/memtable manager. Every
// mutating operation on a published tablet must start from Clone so the
// version a reader already holds stays valid until CAS-swapped out.
func (t *Tablet) Clone() *Tablet {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clone := &Tablet{
		meta:          t.meta.Clone(),
		storageSchema: t.storageSchema,
		tableStore:    *t.tableStore.Clone(),
		readInfo:      t.readInfo,
		memtableMgr:   t.memtableMgr,
		NextTablet:    t.NextTablet,
	}
	return clone
}

// Key returns the tablet's composite identity.
func (t *Tablet) Key() types.TabletKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return types.TabletKey{LogStreamID: t.meta.LogStreamID, TabletID: t.meta.TabletID}
}

// Meta returns a copy of the tablet's current meta.
func (t *Tablet) Meta() Meta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

// StorageSchema returns the tablet's current logical schema snapshot.
func (t *Tablet) StorageSchema() types.StorageSchema {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.storageSchema
}

// UpdateFrom produces the next version of t after a compaction, DDL, or
// minor flush: a clone with the incoming tx_data/binding_info/autoinc
// installed. The invariant that clog_checkpoint_ts never regresses is
// enforced here.
func (t *Tablet) UpdateFrom(txData types.TxData, binding types.BindingInfo, autoinc types.AutoincSeq) (*Tablet, error) {
	next := t.Clone()
	next.meta.TxData = txData
	next.meta.BindingInfo = binding
	next.meta.AutoincSeq = autoinc
	if next.meta.ClogCheckpointTS < t.meta.ClogCheckpointTS {
		return nil, fmt.Errorf("tablet: UpdateFrom: clog_checkpoint_ts must not regress (%d -> %d)",
			t.meta.ClogCheckpointTS, next.meta.ClogCheckpointTS)
	}
	return next, nil
}

// WithTableStore returns a new tablet version carrying ts as its table
// store, bumping clog_checkpoint_ts when ts reflects a newer flush or
// compaction. Callers (component E's update_tablet_table_store) decide
// whether this transition also requires a minor freeze.
func (t *Tablet) WithTableStore(ts TableStore, newClogCheckpointTS int64) *Tablet {
	next := t.Clone()
	next.tableStore = ts
	if newClogCheckpointTS > next.meta.ClogCheckpointTS {
		next.meta.ClogCheckpointTS = newClogCheckpointTS
	}
	return next
}

// GetReadTables returns the set of memtables and SSTables that together
// cover everything visible at snapshotVersion: the newest major at or
// below the snapshot, then the minors covering (major.end, +inf) in
// table-store order, then the memtables in the order the memtable
// manager lists them (oldest first, the active one last).
func (t *Tablet) GetReadTables(snapshotVersion types.SCN, allowNoReadyRead bool) ([]ReadSource, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.meta.HAStatus.IsNone() {
		return nil, ErrReplicaNotReadable
	}
	if snapshotVersion < t.meta.MultiVersionStart && !allowNoReadyRead {
		return nil, ErrSnapshotDiscarded
	}

	var out []ReadSource
	for i := len(t.tableStore.Major) - 1; i >= 0; i-- {
		m := t.tableStore.Major[i]
		if m.SnapshotVersion <= snapshotVersion {
			out = append(out, sstableSource{m})
			break
		}
	}
	majorEnd := int64(0)
	if len(out) > 0 {
		majorEnd = out[0].(sstableSource).EndLogTS
	}
	for _, m := range t.tableStore.Minor {
		if m.EndLogTS > majorEnd {
			out = append(out, sstableSource{m})
		}
	}
	if t.memtableMgr != nil {
		mt, err := t.memtableMgr.ReadSources(snapshotVersion)
		if err != nil {
			return nil, err
		}
		out = append(out, mt...)
	}
	return out, nil
}

// CreateMemtable serializes against table-store mutation and appends a
// new active memtable whose left boundary is the current
// clog_checkpoint_ts. It is idempotent: if an active memtable already
// covers this checkpoint, ErrEntryExist is swallowed and nil returned.
func (t *Tablet) CreateMemtable(schemaVersion int64, forReplay bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.memtableMgr.CreateMemtable(t.meta.ClogCheckpointTS, schemaVersion, forReplay)
	if err != nil {
		if err == ErrEntryExist {
			return nil
		}
		return err
	}
	return nil
}

// refreshActiveMemtable reacquires the current active memtable from the
// manager with a single call, so a freeze since the caller last looked is
// seen; it does not retry, and fails ErrEntryNotExist if the newest
// memtable is frozen.
func (t *Tablet) refreshActiveMemtable() (ActiveMemtable, error) {
	return t.memtableMgr.GetActiveMemtable()
}

// InsertRow validates preconditions, refreshes the storage-table-guard,
// then delegates to the active memtable. Unique-index violations surface
// as ErrPrimaryKeyDuplicate.
func (t *Tablet) InsertRow(row types.Row) error {
	t.mu.RLock()
	normal := t.meta.IsNormal()
	t.mu.RUnlock()
	if !normal {
		return fmt.Errorf("tablet: InsertRow: tablet status is %s, not NORMAL", t.meta.TxData.TabletStatus)
	}

	exists, err := t.RowkeyExists(row.Key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: a=%v, index=PRIMARY", ErrPrimaryKeyDuplicate, row.Key)
	}

	mt, err := t.refreshActiveMemtable()
	if err != nil {
		return err
	}
	row.Op = types.RowOpInsert
	return mt.InsertRow(row)
}

// UpdateRow delegates an update-diff row to the active memtable.
func (t *Tablet) UpdateRow(row types.Row) error {
	t.mu.RLock()
	normal := t.meta.IsNormal()
	t.mu.RUnlock()
	if !normal {
		return fmt.Errorf("tablet: UpdateRow: tablet status is %s, not NORMAL", t.meta.TxData.TabletStatus)
	}
	mt, err := t.refreshActiveMemtable()
	if err != nil {
		return err
	}
	row.Op = types.RowOpUpdate
	return mt.UpdateRow(row)
}

// LockRow acquires a row lock without producing a visible mutation.
func (t *Tablet) LockRow(key types.RowKey) error {
	mt, err := t.refreshActiveMemtable()
	if err != nil {
		return err
	}
	return mt.LockRow(key)
}

// RowkeyExists asks only the newest memtable among the read tables (the
// last memtable GetReadTables returns) and takes its answer as final.
// Older memtables and SSTables are not consulted, and with no memtable
// the key is reported as absent.
func (t *Tablet) RowkeyExists(key types.RowKey) (bool, error) {
	sources, err := t.GetReadTables(types.MaxSCN, true)
	if err != nil {
		return false, err
	}
	for i := len(sources) - 1; i >= 0; i-- {
		if mt, ok := sources[i].(ActiveMemtable); ok {
			exists, err := mt.RowkeyExists(key)
			if err != nil {
				return false, err
			}
			return exists, nil
		}
	}
	return false, nil
}

// RowkeysExists checks existence for a batch of keys in one pass.
func (t *Tablet) RowkeysExists(keys []types.RowKey) ([]bool, error) {
	out := make([]bool, len(keys))
	for i, k := range keys {
		exists, err := t.RowkeyExists(k)
		if err != nil {
			return nil, err
		}
		out[i] = exists
	}
	return out, nil
}

// FetchTabletAutoincSeqCache reserves [start, start+cacheSize-1] from the
// tablet's autoinc sequence: (a) reads the current value, (b) computes
// new = old + cacheSize, (c) calls persist(tabletID, new) — the caller's
// durable, majority-acknowledged sync-tablet-seq write (see
// pkg/txctx.Context.FillSyncTabletSeqRedoLog) — and only on its success
// (d) advances CurrentValue and returns the interval. Concurrent callers
// are serialized by the tablet's own lock, which is held across the
// persist call so two callers never race to reserve the same interval.
func (t *Tablet) FetchTabletAutoincSeqCache(cacheSize int64, persist func(tabletID, newSeq int64) error) (start, end int64, err error) {
	if cacheSize <= 0 {
		return 0, 0, fmt.Errorf("tablet: FetchTabletAutoincSeqCache: cache_size must be positive")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.meta.AutoincSeq.CurrentValue
	next := old + cacheSize

	if persist != nil {
		if err := persist(int64(t.meta.TabletID), next); err != nil {
			return 0, 0, fmt.Errorf("tablet: FetchTabletAutoincSeqCache: sync-tablet-seq write failed: %w", err)
		}
	}

	t.meta.AutoincSeq.CurrentValue = next
	t.meta.AutoincSeq.CacheSize = cacheSize
	t.meta.AutoincSeq.SyncValue = next
	return old, next - 1, nil
}

// ReleaseMemtables sheds empty flushed memtables up to logTS, delegating
// to the memtable manager. Used by the tablet service's offline() when a
// follower loses its local read-replica role.
func (t *Tablet) ReleaseMemtables(logTS int64) error {
	return t.memtableMgr.ReleaseMemtables(logTS)
}
