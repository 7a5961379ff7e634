package tablet

import (
	"sync/atomic"

	"github.com/nautical-db/tablet/pkg/types"
)

// SSTable is an on-disk immutable sorted run produced by a flush or a
// compaction. Its macro blocks are reference counted; every path that
// registers a disk reference (init, load_deserialize_post_work) must
// increment, and every destruction path must decrement.
type SSTable struct {
	ID            string
	SnapshotVersion types.SCN // majors are ordered by this
	StartLogTS    int64     // minors are ordered by this
	EndLogTS      int64
	Addr          types.DiskAddr
	macroRefs     int32
}

// IncRef registers a new reference to this SSTable's macro blocks.
func (s *SSTable) IncRef() {
	atomic.AddInt32(&s.macroRefs, 1)
}

// DecRef releases a reference. A decrement below zero is a hard failure:
// the spec treats macro-block refcount imbalance as an invariant break,
// never a recoverable condition.
func (s *SSTable) DecRef() {
	if atomic.AddInt32(&s.macroRefs, -1) < 0 {
		panic(ErrMacroRefUnderflow)
	}
}

// RefCount returns the current macro block reference count.
func (s *SSTable) RefCount() int32 {
	return atomic.LoadInt32(&s.macroRefs)
}

// Clone returns a copy suitable for installing into a new TableStore; the
// copy starts with its own zero refcount and must be IncRef'd by the
// caller once it is registered.
func (s *SSTable) Clone() *SSTable {
	return &SSTable{
		ID:              s.ID,
		SnapshotVersion: s.SnapshotVersion,
		StartLogTS:      s.StartLogTS,
		EndLogTS:        s.EndLogTS,
		Addr:            s.Addr,
	}
}

// TableStore is the ordered collection of SSTable arrays a tablet owns:
// major (by snapshot version), minor (by log-ts range), and ddl (by log
// ts). Majors are disjoint across versions and totally ordered; minors
// are adjacent-overlapping only at their boundaries.
type TableStore struct {
	Major []*SSTable
	Minor []*SSTable
	DDL   []*SSTable
}

// Clone performs a shallow copy of the table store's slices (new backing
// arrays, same *SSTable pointers) so that swapping in a new table store
// never mutates one a reader already holds.
func (ts *TableStore) Clone() *TableStore {
	clone := &TableStore{
		Major: make([]*SSTable, len(ts.Major)),
		Minor: make([]*SSTable, len(ts.Minor)),
		DDL:   make([]*SSTable, len(ts.DDL)),
	}
	copy(clone.Major, ts.Major)
	copy(clone.Minor, ts.Minor)
	copy(clone.DDL, ts.DDL)
	return clone
}

// FirstMinorStartLogTS returns the start log-ts of the earliest minor
// SSTable, or 0 if there are none.
func (ts *TableStore) FirstMinorStartLogTS() int64 {
	if len(ts.Minor) == 0 {
		return 0
	}
	min := ts.Minor[0].StartLogTS
	for _, m := range ts.Minor[1:] {
		if m.StartLogTS < min {
			min = m.StartLogTS
		}
	}
	return min
}

// IncRefAll increments every SSTable's macro block refcount; used after
// load_deserialize to register the disk references the image implies.
func (ts *TableStore) IncRefAll() {
	for _, s := range ts.Major {
		s.IncRef()
	}
	for _, s := range ts.Minor {
		s.IncRef()
	}
	for _, s := range ts.DDL {
		s.IncRef()
	}
}

// DecRefAll decrements every SSTable's macro block refcount; used on
// tablet destruction.
func (ts *TableStore) DecRefAll() {
	for _, s := range ts.Major {
		s.DecRef()
	}
	for _, s := range ts.Minor {
		s.DecRef()
	}
	for _, s := range ts.DDL {
		s.DecRef()
	}
}
