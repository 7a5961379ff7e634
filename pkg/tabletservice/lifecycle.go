package tabletservice

import (
	"fmt"

	"github.com/nautical-db/tablet/pkg/events"
	"github.com/nautical-db/tablet/pkg/memtable"
	"github.com/nautical-db/tablet/pkg/registry"
	tabletslog "github.com/nautical-db/tablet/pkg/slog"
	"github.com/nautical-db/tablet/pkg/tablet"
	"github.com/nautical-db/tablet/pkg/types"
)

// MigrateParam describes a tablet transported wholesale from another
// replica: its full serialized image plus the identity it must publish
// under.
type MigrateParam struct {
	Key             types.TabletKey
	SerializedImage []byte
}

// MigrateCreateTablet constructs a tablet from a full transported image
// (meta, table store, schema) and publishes it under its own key.
func (s *Service) MigrateCreateTablet(p MigrateParam) (*tablet.Handle, error) {
	t, err := tablet.LoadDeserialize(p.SerializedImage, memtable.NewManager())
	if err != nil {
		return nil, fmt.Errorf("tabletservice: MigrateCreateTablet: %w", err)
	}
	if t.Key() != p.Key {
		return nil, fmt.Errorf("tabletservice: MigrateCreateTablet: image key %s does not match %s", t.Key(), p.Key)
	}
	if err := t.DeserializePostWork(); err != nil {
		return nil, fmt.Errorf("tabletservice: MigrateCreateTablet: %w", err)
	}

	rec := tabletslog.PutTabletRecord(types.DiskAddr{Kind: types.DiskAddrMemory}, p.SerializedImage)
	tok, err := s.slogWriter.Persist([]tabletslog.Record{rec})
	if err != nil {
		return nil, fmt.Errorf("tabletservice: MigrateCreateTablet: SLOG write failed, no state changed: %w", err)
	}
	var h *tablet.Handle
	err = s.slogWriter.Swap(tok, func() error {
		var cerr error
		h, cerr = s.registry.Create(p.Key, t)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EventTabletMigrated, p.Key, "tablet migrated")
	return h, nil
}

// MigrateUpdateTablet replaces an existing tablet's content while keeping
// its identity: build from the transported image, then CAS over the
// currently published version.
func (s *Service) MigrateUpdateTablet(p MigrateParam) (*tablet.Handle, error) {
	cur, err := s.registry.Acquire(p.Key)
	if err != nil {
		return nil, err
	}
	defer cur.DecRef()

	next, err := tablet.LoadDeserialize(p.SerializedImage, memtable.NewManager())
	if err != nil {
		return nil, fmt.Errorf("tabletservice: MigrateUpdateTablet: %w", err)
	}
	if err := next.DeserializePostWork(); err != nil {
		return nil, fmt.Errorf("tabletservice: MigrateUpdateTablet: %w", err)
	}

	rec := tabletslog.PutTabletRecord(types.DiskAddr{Kind: types.DiskAddrMemory}, p.SerializedImage)
	tok, err := s.slogWriter.Persist([]tabletslog.Record{rec})
	if err != nil {
		return nil, fmt.Errorf("tabletservice: MigrateUpdateTablet: SLOG write failed, no state changed: %w", err)
	}
	var h *tablet.Handle
	err = s.slogWriter.Swap(tok, func() error {
		var cerr error
		h, cerr = s.registry.CompareAndSwap(p.Key, cur.Get(), next)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// RebuildCreateTablet installs a freshly rebuilt tablet in place of the
// current one. With keepOld, the new version's NextTablet points at the
// superseded version until TrimRebuildTablet confirms success or
// RollbackRebuildTablet restores it.
func (s *Service) RebuildCreateTablet(p MigrateParam, keepOld bool) (*tablet.Handle, error) {
	old, err := s.registry.Acquire(p.Key)
	if err != nil {
		return nil, err
	}
	defer old.DecRef()

	next, err := tablet.LoadDeserialize(p.SerializedImage, memtable.NewManager())
	if err != nil {
		return nil, fmt.Errorf("tabletservice: RebuildCreateTablet: %w", err)
	}
	if err := next.DeserializePostWork(); err != nil {
		return nil, fmt.Errorf("tabletservice: RebuildCreateTablet: %w", err)
	}
	if keepOld {
		next.NextTablet = old.Get()
	}

	h, err := s.registry.CompareAndSwap(p.Key, old.Get(), next)
	if err != nil {
		return nil, err
	}
	s.publish(events.EventTabletRebuilt, p.Key, "tablet rebuilt")
	return h, nil
}

// TrimRebuildTablet confirms a rebuild succeeded: it clears the bounded
// NextTablet link so the superseded version's macro blocks can be
// released once its handle drains.
func (s *Service) TrimRebuildTablet(key types.TabletKey) error {
	cur, err := s.registry.Acquire(key)
	if err != nil {
		return err
	}
	defer cur.DecRef()

	if cur.Get().NextTablet == nil {
		return nil
	}
	next := cur.Get().Clone()
	old := next.NextTablet
	next.NextTablet = nil
	if _, err := s.registry.CompareAndSwap(key, cur.Get(), next); err != nil {
		return err
	}
	old.Destroy()
	return nil
}

// RollbackRebuildTablet restores the superseded version a keepOld rebuild
// chained in, discarding the failed rebuild attempt.
func (s *Service) RollbackRebuildTablet(key types.TabletKey) error {
	cur, err := s.registry.Acquire(key)
	if err != nil {
		return err
	}
	defer cur.DecRef()

	old := cur.Get().NextTablet
	if old == nil {
		return fmt.Errorf("tabletservice: RollbackRebuildTablet: no superseded version to restore")
	}
	_, err = s.registry.CompareAndSwap(key, cur.Get(), old)
	if err != nil {
		return err
	}
	cur.Get().Destroy()
	return nil
}

// TxReplayHooks is the dispatcher interface the transaction layer drives
// a tablet's lifecycle transaction through: one set of five hooks
// (prepare/redo/commit/tx-end/abort) for create, and one for remove.
type TxReplayHooks interface {
	OnPrepareCreate(key types.TabletKey, txID string, txLogTS int64) error
	OnRedoCreate(key types.TabletKey, txID string, txLogTS int64) error
	OnCommitCreate(key types.TabletKey, txID string, txLogTS int64) error
	OnTxEndCreate(key types.TabletKey, txID string) error
	OnAbortCreate(key types.TabletKey, txID string) error

	OnPrepareRemove(key types.TabletKey, txID string, txLogTS int64) error
	OnRedoRemove(key types.TabletKey, txID string, txLogTS int64) error
	OnCommitRemove(key types.TabletKey, txID string, txLogTS int64) error
	OnTxEndRemove(key types.TabletKey, txID string) error
	OnAbortRemove(key types.TabletKey, txID string) error
}

// updateTxData is the shared dispatcher every hook below routes through:
// it CAS-loops the tablet's tx_data to the requested status, retrying
// once on a concurrent CAS conflict since tx_data transitions never
// race against DML (the tablet is pinned for the duration of its
// lifecycle transaction).
func (s *Service) updateTxData(key types.TabletKey, status types.TabletStatus, txID string, txLogTS int64) error {
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.registry.Acquire(key)
		if err != nil {
			return err
		}
		next, err := cur.Get().UpdateFrom(
			types.TxData{TxID: txID, TabletStatus: status, TxLogTS: txLogTS},
			cur.Get().Meta().BindingInfo,
			cur.Get().Meta().AutoincSeq,
		)
		if err != nil {
			cur.DecRef()
			return err
		}
		_, err = s.registry.CompareAndSwap(key, cur.Get(), next)
		cur.DecRef()
		if err == nil {
			return nil
		}
		if err != registry.ErrCASConflict {
			return err
		}
	}
	return fmt.Errorf("tabletservice: updateTxData: %s: exhausted retries against concurrent CAS", key)
}

func (s *Service) OnPrepareCreate(key types.TabletKey, txID string, txLogTS int64) error {
	return s.updateTxData(key, types.TabletStatusCreating, txID, txLogTS)
}

func (s *Service) OnRedoCreate(key types.TabletKey, txID string, txLogTS int64) error {
	return s.updateTxData(key, types.TabletStatusCreating, txID, txLogTS)
}

func (s *Service) OnCommitCreate(key types.TabletKey, txID string, txLogTS int64) error {
	if err := s.updateTxData(key, types.TabletStatusNormal, txID, txLogTS); err != nil {
		return err
	}
	s.publish(events.EventTabletCreated, key, "tablet create committed")
	return nil
}

func (s *Service) OnTxEndCreate(key types.TabletKey, txID string) error {
	return nil
}

func (s *Service) OnAbortCreate(key types.TabletKey, txID string) error {
	return s.BatchRemoveTablets([]types.TabletKey{key}, false)
}

func (s *Service) OnPrepareRemove(key types.TabletKey, txID string, txLogTS int64) error {
	return s.updateTxData(key, types.TabletStatusDeleting, txID, txLogTS)
}

func (s *Service) OnRedoRemove(key types.TabletKey, txID string, txLogTS int64) error {
	return s.updateTxData(key, types.TabletStatusDeleting, txID, txLogTS)
}

func (s *Service) OnCommitRemove(key types.TabletKey, txID string, txLogTS int64) error {
	return s.updateTxData(key, types.TabletStatusDeleted, txID, txLogTS)
}

func (s *Service) OnTxEndRemove(key types.TabletKey, txID string) error {
	return s.BatchRemoveTablets([]types.TabletKey{key}, false)
}

func (s *Service) OnAbortRemove(key types.TabletKey, txID string) error {
	return s.updateTxData(key, types.TabletStatusNormal, txID, 0)
}
