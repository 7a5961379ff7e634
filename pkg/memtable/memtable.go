// Package memtable implements component C: the per-tablet ordered list
// of memtables (active plus frozen) that backs every tablet's in-memory
// LSM level. It implements pkg/tablet's MemtableManager/ActiveMemtable
// contracts, which is why it imports pkg/tablet rather than the other
// way around.
package memtable

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/tablet"
	"github.com/nautical-db/tablet/pkg/types"
)

// DefaultMaxMemtableCount bounds the length of a tablet's memtable list
// (the spec calls 16 "typical").
const DefaultMaxMemtableCount = 16

var (
	// ErrEntryNotExist mirrors OB_ENTRY_NOT_EXIST: no active memtable, or
	// no memtable covers the requested replay log ts.
	ErrEntryNotExist = errors.New("memtable: entry not exist")

	// ErrEntryExist makes CreateMemtable idempotent for a checkpoint
	// already covered by the active memtable.
	ErrEntryExist = tablet.ErrEntryExist

	// ErrMinorFreezeNotAllowed signals freeze backpressure: prior frozen
	// memtables have not yet been persisted.
	ErrMinorFreezeNotAllowed = errors.New("memtable: minor freeze not allowed")
)

// Memtable is one entry in a tablet's memtable list: either the single
// active (writable) memtable, or a frozen one awaiting flush. It
// satisfies tablet.ActiveMemtable.
type Memtable struct {
	mu sync.RWMutex

	startLogTS int64
	endLogTS   int64 // 0 while active; set on freeze
	frozen     bool

	rows          map[string]types.Row
	callbackCnt   int
	schemaVersion int64
}

func newMemtable(startLogTS int64, schemaVersion int64) *Memtable {
	return &Memtable{
		startLogTS:    startLogTS,
		rows:          make(map[string]types.Row),
		schemaVersion: schemaVersion,
	}
}

// Kind satisfies tablet.ReadSource.
func (m *Memtable) Kind() string { return "memtable" }

func rowKeyString(k types.RowKey) string {
	s := ""
	for i, v := range k {
		if i > 0 {
			s += "\x00"
		}
		s += fmt.Sprint(v)
	}
	return s
}

// InsertRow records an insert callback. Uniqueness is enforced by the
// tablet object before this is called; the memtable itself just stores
// the latest version of the row.
func (m *Memtable) InsertRow(row types.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return fmt.Errorf("memtable: InsertRow: memtable is frozen")
	}
	m.rows[rowKeyString(row.Key)] = row
	m.callbackCnt++
	return nil
}

// UpdateRow records an update-diff callback.
func (m *Memtable) UpdateRow(row types.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return fmt.Errorf("memtable: UpdateRow: memtable is frozen")
	}
	m.rows[rowKeyString(row.Key)] = row
	m.callbackCnt++
	return nil
}

// LockRow records a lock-only callback without changing the row's value.
func (m *Memtable) LockRow(key types.RowKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return fmt.Errorf("memtable: LockRow: memtable is frozen")
	}
	k := rowKeyString(key)
	existing, ok := m.rows[k]
	if !ok {
		existing = types.Row{Key: key, Op: types.RowOpLock}
	}
	m.rows[k] = existing
	m.callbackCnt++
	return nil
}

// RowkeyExists reports whether key has a non-deleted row in this
// memtable.
func (m *Memtable) RowkeyExists(key types.RowKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[rowKeyString(key)]
	if !ok {
		return false, nil
	}
	return row.Op != types.RowOpDelete, nil
}

// IsFrozen reports whether this memtable has been frozen and so no longer
// accepts writes.
func (m *Memtable) IsFrozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// EndLogTS returns the log-ts at which this memtable stopped accepting
// writes (0 if still active).
func (m *Memtable) EndLogTS() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endLogTS
}

// CallbackCount reports the number of recorded callbacks; used by
// ReleaseMemtables to decide whether a frozen memtable may be dropped.
func (m *Memtable) CallbackCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callbackCnt
}

func (m *Memtable) freeze(endLogTS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	m.endLogTS = endLogTS
}

// Manager is the per-tablet ordered list of memtables. Writes always
// target the active (last, unfrozen) memtable; CreateMemtable freezes it
// and appends a new active one under the freeze lock. Manager satisfies
// tablet.MemtableManager.
type Manager struct {
	freezeMu sync.Mutex

	mu            sync.RWMutex
	list          []*Memtable // ordered oldest-to-newest; list[len-1] is active if unfrozen
	persistedUpTo int64
}

// NewManager creates an empty memtable manager with no active memtable.
func NewManager() *Manager {
	return &Manager{}
}

// GetActiveMemtable returns the latest unfrozen memtable, or
// ErrEntryNotExist if none exists.
func (mgr *Manager) GetActiveMemtable() (tablet.ActiveMemtable, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	if len(mgr.list) == 0 {
		return nil, ErrEntryNotExist
	}
	last := mgr.list[len(mgr.list)-1]
	if last.IsFrozen() {
		return nil, ErrEntryNotExist
	}
	return last, nil
}

// CreateMemtable allocates a new active memtable under the freeze lock.
// It fails ErrMinorFreezeNotAllowed if the bound on outstanding
// memtables (DefaultMaxMemtableCount) has been reached without a flush
// having released them (backpressure), and is idempotent
// (ErrEntryExist) if the current active memtable already starts at
// clogCheckpointTS.
func (mgr *Manager) CreateMemtable(clogCheckpointTS int64, schemaVersion int64, forReplay bool) (tablet.ActiveMemtable, error) {
	mgr.freezeMu.Lock()
	defer mgr.freezeMu.Unlock()

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if len(mgr.list) > 0 {
		last := mgr.list[len(mgr.list)-1]
		if !last.IsFrozen() {
			if last.startLogTS == clogCheckpointTS {
				return last, ErrEntryExist
			}
			last.freeze(clogCheckpointTS)
		}
	}

	if len(mgr.list) >= DefaultMaxMemtableCount {
		metrics.MemtableFreezeBackpressure.Inc()
		return nil, ErrMinorFreezeNotAllowed
	}

	mt := newMemtable(clogCheckpointTS, schemaVersion)
	mgr.list = append(mgr.list, mt)
	metrics.MemtablesActive.Set(float64(mgr.countActiveLocked()))
	return mt, nil
}

func (mgr *Manager) countActiveLocked() int {
	n := 0
	for _, mt := range mgr.list {
		if !mt.IsFrozen() {
			n++
		}
	}
	return n
}

// ReleaseMemtables drops every memtable whose end_log_ts <= logTS and
// whose callback list is empty (flushed memtables with outstanding
// callbacks are never dropped silently).
func (mgr *Manager) ReleaseMemtables(logTS int64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MemtableReleaseDuration)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	kept := mgr.list[:0]
	for _, mt := range mgr.list {
		if mt.IsFrozen() && mt.endLogTS <= logTS && mt.CallbackCount() == 0 {
			continue
		}
		kept = append(kept, mt)
	}
	mgr.list = kept
	if logTS > mgr.persistedUpTo {
		mgr.persistedUpTo = logTS
	}
	return nil
}

// GetMemtableForReplay returns the memtable whose log-ts range contains
// replayLogTS, or ErrEntryNotExist if the record predates the first
// memtable in the list.
func (mgr *Manager) GetMemtableForReplay(replayLogTS int64) (*Memtable, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	if len(mgr.list) == 0 {
		return nil, ErrEntryNotExist
	}
	idx := sort.Search(len(mgr.list), func(i int) bool {
		return mgr.list[i].startLogTS > replayLogTS
	})
	if idx == 0 {
		return nil, ErrEntryNotExist
	}
	return mgr.list[idx-1], nil
}

// ReadSources returns every memtable (active and frozen) as a read
// source; filtering by commit version happens at the row level during a
// scan, not here.
func (mgr *Manager) ReadSources(snapshotVersion types.SCN) ([]tablet.ReadSource, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]tablet.ReadSource, 0, len(mgr.list))
	for _, mt := range mgr.list {
		out = append(out, mt)
	}
	return out, nil
}

// GetMultiSourceDataUnit returns the latest copy of a multi-source-data
// unit (tablet-status, binding-info) visible from any memtable, used by
// readers that must observe uncommitted state. This implementation has
// no MSD-carrying memtable content of its own yet (MSD callbacks live in
// pkg/txctx's table-lock/autoinc-seq records), so it is a no-op until
// wired to a real MSD source.
func (mgr *Manager) GetMultiSourceDataUnit(dst *types.TxData) error {
	return nil
}
