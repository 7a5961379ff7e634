// Package tabletservice implements component E: the per-log-stream
// façade over components A through D. It owns tablet lifecycle
// (create/remove/migrate/rebuild), DML entry points, snapshot-consistent
// scans, the SLOG writer, and the multi-source-data replay hooks a
// transaction layer drives tablet lifecycle transitions through.
package tabletservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nautical-db/tablet/pkg/events"
	"github.com/nautical-db/tablet/pkg/lob"
	"github.com/nautical-db/tablet/pkg/log"
	"github.com/nautical-db/tablet/pkg/memtable"
	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/registry"
	tabletslog "github.com/nautical-db/tablet/pkg/slog"
	"github.com/nautical-db/tablet/pkg/tablet"
	"github.com/nautical-db/tablet/pkg/txctx"
	"github.com/nautical-db/tablet/pkg/types"
	"github.com/rs/zerolog"
)

// pollInterval is the bounded-poll period used by GetTabletWithTimeout
// and row-lock wait loops.
const pollInterval = 5 * time.Millisecond

// CreateArg describes one tablet to build in a batch create.
type CreateArg struct {
	Key          types.TabletKey
	DataTabletID types.TabletID
	Schema       types.StorageSchema
	CompatMode   types.CompatMode
}

// DMLRunningCtx bundles the per-call state every DML entry point opens:
// which tablet to act on, the snapshot version reads are pinned to, an
// optional deadline, and whether defensive row checks run.
type DMLRunningCtx struct {
	LogStreamID     types.LogStreamID
	TabletID        types.TabletID
	SnapshotVersion types.SCN
	Timeout         time.Time
	DefensiveChecks bool
}

func (c *DMLRunningCtx) expired() bool {
	return !c.Timeout.IsZero() && time.Now().After(c.Timeout)
}

// Service is the per-log-stream tablet service.
type Service struct {
	LogStreamID types.LogStreamID

	registry   *registry.Registry
	slogWriter *tabletslog.Writer
	lob        *lob.Manager
	broker     *events.Broker
	logger     zerolog.Logger

	// DefensiveChecks enables the nullability/old-row-legitimacy checks
	// DML validates rows against.
	DefensiveChecks bool
}

// New creates a tablet service for one log stream. broker may be nil.
func New(logStreamID types.LogStreamID, reg *registry.Registry, w *tabletslog.Writer, lobMgr *lob.Manager, broker *events.Broker) *Service {
	return &Service{
		LogStreamID: logStreamID,
		registry:    reg,
		slogWriter:  w,
		lob:         lobMgr,
		broker:      broker,
		logger:      log.WithLogStream(int64(logStreamID)),
	}
}

func (s *Service) publish(evType events.EventType, key types.TabletKey, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    evType,
		Message: msg,
		Metadata: map[string]string{
			"log_stream_id": fmt.Sprint(key.LogStreamID),
			"tablet_id":     fmt.Sprint(key.TabletID),
		},
	})
}

// BatchCreateTablets builds each tablet in args, writes one SLOG batch,
// then CAS-publishes each. During replay, tablets already present are
// skipped (idempotence). Tablets are processed in ascending tablet-id
// order so bucket-lock acquisition inside the registry stays consistent
// with every other multi-key caller.
func (s *Service) BatchCreateTablets(args []CreateArg, createSCN types.SCN, isReplay bool) error {
	if len(args) == 0 {
		return ErrInvalidArgument
	}
	sorted := append([]CreateArg(nil), args...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.TabletID < sorted[j].Key.TabletID })

	toCreate := make(map[types.TabletKey]*tablet.Tablet)
	var records []tabletslog.Record
	for _, a := range sorted {
		if isReplay {
			if h, err := s.registry.Acquire(a.Key); err == nil {
				h.DecRef()
				continue
			}
		}
		t, err := tablet.New(a.Key, a.DataTabletID, createSCN, createSCN, a.Schema, a.CompatMode, memtable.NewManager())
		if err != nil {
			return fmt.Errorf("tabletservice: BatchCreateTablets: %w", err)
		}
		// BatchCreateTablets is the direct, non-transactional create path
		// (transactional creates go through TxReplayHooks; migrate and
		// rebuild have their own methods in lifecycle.go); the tablet is
		// immediately visible once published rather than sitting in
		// TabletStatusCreating.
		t, err = t.UpdateFrom(types.TxData{TabletStatus: types.TabletStatusNormal}, types.BindingInfo{}, types.AutoincSeq{})
		if err != nil {
			return fmt.Errorf("tabletservice: BatchCreateTablets: %w", err)
		}
		buf, err := t.Serialize()
		if err != nil {
			return fmt.Errorf("tabletservice: BatchCreateTablets: %w", err)
		}
		records = append(records, tabletslog.PutTabletRecord(types.DiskAddr{Kind: types.DiskAddrMemory}, buf))
		toCreate[a.Key] = t
	}
	if len(toCreate) == 0 {
		return nil
	}

	tok, err := s.slogWriter.Persist(records)
	if err != nil {
		return fmt.Errorf("tabletservice: BatchCreateTablets: SLOG write failed, no state changed: %w", err)
	}
	err = s.slogWriter.Swap(tok, func() error {
		return s.registry.CreateBatch(toCreate)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("post-SLOG tablet publish failed — invariant break")
		return err
	}
	for k := range toCreate {
		s.publish(events.EventTabletCreated, k, "tablet created")
	}
	return nil
}

// BatchRemoveTablets verifies each target exists, writes a delete-SLOG
// batch, then removes the tablets one at a time, in tablet-id order, with
// Registry.Del; each call takes only its own key's bucket lock, so the
// batch is not removed under one set of held locks. A post-SLOG removal
// failure is fatal: the caller should abort
// the process rather than retry, per the spec's write-then-swap
// contract.
func (s *Service) BatchRemoveTablets(keys []types.TabletKey, isReplay bool) error {
	sorted := append([]types.TabletKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TabletID < sorted[j].TabletID })

	var records []tabletslog.Record
	var toRemove []types.TabletKey
	for _, k := range sorted {
		h, err := s.registry.Acquire(k)
		if err != nil {
			if isReplay {
				continue
			}
			return ErrTabletNotExist
		}
		h.DecRef()
		records = append(records, tabletslog.DeleteTabletRecord(k))
		toRemove = append(toRemove, k)
	}
	if len(toRemove) == 0 {
		return nil
	}

	tok, err := s.slogWriter.Persist(records)
	if err != nil {
		return fmt.Errorf("tabletservice: BatchRemoveTablets: SLOG write failed, no state changed: %w", err)
	}
	err = s.slogWriter.Swap(tok, func() error {
		for _, k := range toRemove {
			if err := s.registry.Del(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("post-SLOG tablet removal failed — invariant break")
		return err
	}
	for _, k := range toRemove {
		s.publish(events.EventTabletRemoved, k, "tablet removed")
	}
	return nil
}

// UpdateTabletTableStore swaps in a new table store produced by
// compaction or flush. If the incoming clogCheckpointTS exceeds the
// current one, this triggers a minor freeze (a new memtable checkpoint)
// before publishing.
func (s *Service) UpdateTabletTableStore(key types.TabletKey, ts tablet.TableStore, newClogCheckpointTS int64, schemaVersion int64) error {
	h, err := s.registry.Acquire(key)
	if err != nil {
		return ErrTabletNotExist
	}
	defer h.DecRef()

	cur := h.Get()
	if newClogCheckpointTS > cur.Meta().ClogCheckpointTS {
		if err := cur.CreateMemtable(schemaVersion, false); err != nil {
			return err
		}
		s.publish(events.EventMemtableFrozen, key, "minor freeze on table store swap")
	}
	next := cur.WithTableStore(ts, newClogCheckpointTS)
	_, err = s.registry.CompareAndSwap(key, cur, next)
	return err
}

// FetchTabletAutoincSeqCache reserves an autoincrement interval for key.
// The advance is durably recorded via a sync-tablet-seq SLOG record
// before the interval is returned: persist, then advance.
func (s *Service) FetchTabletAutoincSeqCache(key types.TabletKey, cacheSize int64) (start, end int64, err error) {
	h, err := s.registry.Acquire(key)
	if err != nil {
		return 0, 0, ErrTabletNotExist
	}
	defer h.DecRef()

	redo := txctx.New(fmt.Sprintf("autoinc-%d-%d", key.LogStreamID, key.TabletID))
	start, end, err = h.Get().FetchTabletAutoincSeqCache(cacheSize, func(tabletID, newSeq int64) error {
		framed := redo.FillSyncTabletSeqRedoLog(tabletID, newSeq)
		_, persistErr := s.slogWriter.Persist([]tabletslog.Record{tabletslog.SyncTabletSeqRecord(framed)})
		return persistErr
	})
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// GetTabletWithTimeout resolves a tablet, bounded-polling until ctx is
// done if it is not yet published (e.g. a concurrent create is still
// in flight).
func (s *Service) GetTabletWithTimeout(ctx context.Context, key types.TabletKey) (*tablet.Handle, error) {
	if h, err := s.registry.Acquire(key); err == nil {
		return h, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
			if h, err := s.registry.Acquire(key); err == nil {
				return h, nil
			}
		}
	}
}

func (s *Service) validateRow(schema *types.StorageSchema, row types.Row, checkDefensive bool) error {
	if !checkDefensive {
		return nil
	}
	nonKey := schema.Columns[schema.RowkeyColumnCount:]
	for i, col := range nonKey {
		if col.IsNullable || i >= len(row.Value) {
			continue
		}
		if row.Value[i] == nil {
			return fmt.Errorf("%w: column %s", ErrBadNull, col.Name)
		}
	}
	return nil
}

// routeLobColumns replaces each IsLob column's raw []byte value with the
// lob.Locator the LOB manager routed it to, leaving everything else
// untouched. Rows whose value for a LOB column is already a lob.Locator
// (an update carrying forward an untouched LOB value) pass through.
func (s *Service) routeLobColumns(key types.TabletKey, schema *types.StorageSchema, row *types.Row) error {
	if s.lob == nil {
		return nil
	}
	nonKey := schema.Columns[schema.RowkeyColumnCount:]
	for i, col := range nonKey {
		if !col.IsLob || i >= len(row.Value) {
			continue
		}
		raw, ok := row.Value[i].([]byte)
		if !ok {
			continue
		}
		param := lob.AccessParam{
			LogStreamID:     key.LogStreamID,
			TabletID:        key.TabletID,
			ColumnID:        col.ColumnID,
			SnapshotVersion: row.CommitVersion,
		}
		loc, err := s.lob.Insert(param, raw)
		if err != nil {
			return fmt.Errorf("tabletservice: routeLobColumns: %w", err)
		}
		row.Value[i] = loc
	}
	return nil
}

// InsertRow resolves the tablet, validates the row, routes LOB columns,
// and inserts through the active memtable. A failed insert is retried,
// for up to three attempts in all, sleeping pollInterval between
// attempts and stopping early once runCtx's deadline has passed.
func (s *Service) InsertRow(ctx context.Context, runCtx *DMLRunningCtx, row types.Row) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DMLDuration, "insert")

	key := types.TabletKey{LogStreamID: runCtx.LogStreamID, TabletID: runCtx.TabletID}
	h, err := s.GetTabletWithTimeout(ctx, key)
	if err != nil {
		metrics.DMLOutcomesTotal.WithLabelValues("insert", "error").Inc()
		return err
	}
	defer h.DecRef()

	schema := h.Get().StorageSchema()
	if err := s.validateRow(&schema, row, runCtx.DefensiveChecks); err != nil {
		metrics.DMLOutcomesTotal.WithLabelValues("insert", "error").Inc()
		return err
	}
	if err := s.routeLobColumns(key, &schema, &row); err != nil {
		metrics.DMLOutcomesTotal.WithLabelValues("insert", "error").Inc()
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err = h.Get().InsertRow(row)
		if err == nil {
			metrics.DMLOutcomesTotal.WithLabelValues("insert", "ok").Inc()
			return nil
		}
		if runCtx.expired() {
			break
		}
		time.Sleep(pollInterval)
	}
	metrics.DMLOutcomesTotal.WithLabelValues("insert", "error").Inc()
	return err
}

// UpdateRow resolves the tablet and routes the row to the active
// memtable as an update-diff callback.
func (s *Service) UpdateRow(ctx context.Context, runCtx *DMLRunningCtx, row types.Row) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DMLDuration, "update")

	key := types.TabletKey{LogStreamID: runCtx.LogStreamID, TabletID: runCtx.TabletID}
	h, err := s.GetTabletWithTimeout(ctx, key)
	if err != nil {
		metrics.DMLOutcomesTotal.WithLabelValues("update", "error").Inc()
		return err
	}
	defer h.DecRef()

	if err := h.Get().UpdateRow(row); err != nil {
		metrics.DMLOutcomesTotal.WithLabelValues("update", "error").Inc()
		return err
	}
	metrics.DMLOutcomesTotal.WithLabelValues("update", "ok").Inc()
	return nil
}

// DeleteRow is an update-diff row carrying types.RowOpDelete, routed
// exactly like UpdateRow.
func (s *Service) DeleteRow(ctx context.Context, runCtx *DMLRunningCtx, row types.Row) error {
	row.Op = types.RowOpDelete
	return s.UpdateRow(ctx, runCtx, row)
}

// LockRow acquires a row lock without a visible mutation.
func (s *Service) LockRow(ctx context.Context, runCtx *DMLRunningCtx, key types.RowKey) error {
	tkey := types.TabletKey{LogStreamID: runCtx.LogStreamID, TabletID: runCtx.TabletID}
	h, err := s.GetTabletWithTimeout(ctx, tkey)
	if err != nil {
		return err
	}
	defer h.DecRef()

	if err := h.Get().LockRow(key); err != nil {
		return fmt.Errorf("%w: %v", ErrTryLockRowConflict, err)
	}
	return nil
}

// TableScan resolves the tablet and returns its read sources at
// snapshotVersion — the set a scan iterator merges over.
func (s *Service) TableScan(ctx context.Context, runCtx *DMLRunningCtx) ([]tablet.ReadSource, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScanDuration)

	key := types.TabletKey{LogStreamID: runCtx.LogStreamID, TabletID: runCtx.TabletID}
	h, err := s.GetTabletWithTimeout(ctx, key)
	if err != nil {
		return nil, err
	}
	defer h.DecRef()

	sources, err := h.Get().GetReadTables(runCtx.SnapshotVersion, false)
	if err != nil {
		switch {
		case errors.Is(err, tablet.ErrReplicaNotReadable):
			return nil, ErrReplicaNotReadable
		case errors.Is(err, tablet.ErrSnapshotDiscarded):
			return nil, ErrSnapshotDiscarded
		}
		return nil, err
	}
	return sources, nil
}

// TableRescan re-resolves the tablet for a subsequent scan range under
// the same running context, retaining runCtx's cached parameters.
func (s *Service) TableRescan(ctx context.Context, runCtx *DMLRunningCtx) ([]tablet.ReadSource, error) {
	return s.TableScan(ctx, runCtx)
}

// CheckSchemaVersion compares the tablet's max synced schema version
// against the caller's schema_version and tenant_refreshed_schema_version,
// producing SCHEMA_EAGAIN or SCHEMA_NOT_UPTODATE as appropriate.
func (s *Service) CheckSchemaVersion(key types.TabletKey, callerSchemaVersion, tenantRefreshedVersion int64) error {
	h, err := s.registry.Acquire(key)
	if err != nil {
		return ErrTabletNotExist
	}
	defer h.DecRef()

	maxSynced := h.Get().Meta().MaxSyncStorageSchemaVersion
	if callerSchemaVersion > maxSynced {
		if tenantRefreshedVersion < callerSchemaVersion {
			return ErrSchemaEAgain
		}
		return ErrSchemaNotUptodate
	}
	return nil
}

// Keys returns the tablet keys currently registered for this log
// stream. Used by readiness probes and administrative tooling; not part
// of the DML/scan surface.
func (s *Service) Keys() []types.TabletKey {
	return s.registry.Keys()
}

// Offline iterates every tablet this service owns and releases local
// memtable state, for a follower that has lost its local read-replica
// role.
func (s *Service) Offline() error {
	for _, key := range s.registry.Keys() {
		h, err := s.registry.Acquire(key)
		if err != nil {
			continue
		}
		t := h.Get()
		if err := t.ReleaseMemtables(int64(types.MaxSCN)); err != nil {
			h.DecRef()
			return err
		}
		t.Destroy()
		h.DecRef()
	}
	return nil
}
