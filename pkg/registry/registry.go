// Package registry implements component A: the tablet pointer and
// meta-mem manager. It holds one *tablet.Handle per published tablet
// version behind a sharded bucket-lock map, tracks pinned tablets, and
// durably indexes every publish/delete through a bbolt-backed log so a
// restarted node can rebuild its in-memory map without rescanning SLOG.
package registry

import (
	"sort"
	"sync"

	"github.com/nautical-db/tablet/pkg/log"
	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/tablet"
	"github.com/nautical-db/tablet/pkg/types"
)

// bucketCount is the number of lock shards the registry hashes tablet
// keys across. Batch operations that touch several keys always acquire
// their buckets in ascending index order to avoid deadlock.
const bucketCount = 64

func bucketIndex(key types.TabletKey) int {
	h := uint64(key.LogStreamID)*1000003 + uint64(key.TabletID)
	return int(h % bucketCount)
}

type bucket struct {
	mu      sync.RWMutex
	tablets map[types.TabletKey]*tablet.Handle
}

// Registry is the in-memory tablet pointer map. A nil *Durable disables
// durable indexing (tests and in-memory-only use).
type Registry struct {
	buckets [bucketCount]*bucket

	pinnedMu sync.Mutex
	pinned   map[types.TabletKey]int

	durable *Durable
}

// New creates an empty registry. durable may be nil.
func New(durable *Durable) *Registry {
	r := &Registry{
		pinned:  make(map[types.TabletKey]int),
		durable: durable,
	}
	for i := range r.buckets {
		r.buckets[i] = &bucket{tablets: make(map[types.TabletKey]*tablet.Handle)}
	}
	return r
}

func (r *Registry) bucketFor(key types.TabletKey) *bucket {
	return r.buckets[bucketIndex(key)]
}

// lockBucketsSorted acquires the buckets for keys in ascending bucket
// index order, deduplicating repeats, and returns an unlock function.
// This is the deadlock-avoidance pattern every multi-key registry
// operation (batch create/remove) must use.
func (r *Registry) lockBucketsSorted(keys []types.TabletKey) func() {
	idxSet := make(map[int]bool)
	for _, k := range keys {
		idxSet[bucketIndex(k)] = true
	}
	idxs := make([]int, 0, len(idxSet))
	for i := range idxSet {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		r.buckets[i].mu.Lock()
	}
	return func() {
		for i := len(idxs) - 1; i >= 0; i-- {
			r.buckets[idxs[i]].mu.Unlock()
		}
	}
}

// Acquire returns the currently published handle for key, pinning it
// with IncRef. Callers must DecRef when done.
func (r *Registry) Acquire(key types.TabletKey) (*tablet.Handle, error) {
	b := r.bucketFor(key)
	b.mu.RLock()
	h, ok := b.tablets[key]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrTabletNotExist
	}
	return h.IncRef(), nil
}

// Create publishes a brand-new handle for key. It fails with
// ErrTabletExist if one is already published.
func (r *Registry) Create(key types.TabletKey, t *tablet.Tablet) (*tablet.Handle, error) {
	b := r.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tablets[key]; ok {
		return nil, ErrTabletExist
	}
	h := tablet.NewHandle(t)
	b.tablets[key] = h

	if r.durable != nil {
		if err := r.durable.PutTablet(key, t); err != nil {
			delete(b.tablets, key)
			return nil, err
		}
	}
	metrics.TabletsTotal.WithLabelValues(t.Meta().TxData.TabletStatus.String()).Inc()
	return h, nil
}

// CreateBatch publishes several new tablets atomically with respect to
// lock ordering: all affected buckets are locked in sorted order before
// any mutation, so a concurrent batch touching overlapping keys cannot
// deadlock against this one.
func (r *Registry) CreateBatch(tablets map[types.TabletKey]*tablet.Tablet) error {
	keys := make([]types.TabletKey, 0, len(tablets))
	for k := range tablets {
		keys = append(keys, k)
	}
	unlock := r.lockBucketsSorted(keys)
	defer unlock()

	for k, t := range tablets {
		b := r.bucketFor(k)
		if _, ok := b.tablets[k]; ok {
			return ErrTabletExist
		}
		b.tablets[k] = tablet.NewHandle(t)
	}
	if r.durable != nil {
		for k, t := range tablets {
			if err := r.durable.PutTablet(k, t); err != nil {
				return err
			}
		}
	}
	for _, t := range tablets {
		metrics.TabletsTotal.WithLabelValues(t.Meta().TxData.TabletStatus.String()).Inc()
	}
	return nil
}

// CompareAndSwap publishes next in place of the handle wrapping expected,
// the standard publication path for a copy-on-write mutation produced by
// component B. It fails with ErrCASConflict if the published tablet has
// moved on since the caller read it.
func (r *Registry) CompareAndSwap(key types.TabletKey, expected *tablet.Tablet, next *tablet.Tablet) (*tablet.Handle, error) {
	b := r.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.tablets[key]
	if !ok {
		return nil, ErrTabletNotExist
	}
	if cur.Get() != expected {
		metrics.TabletCASConflicts.Inc()
		return nil, ErrCASConflict
	}

	h := tablet.NewHandle(next)
	b.tablets[key] = h

	if r.durable != nil {
		if err := r.durable.PutTablet(key, next); err != nil {
			b.tablets[key] = cur
			return nil, err
		}
	}
	return h, nil
}

// Del removes the published handle for key. It is idempotent: deleting a
// key with no published handle returns nil. It refuses while the tablet
// is pinned (Pin called more times than Unpin).
func (r *Registry) Del(key types.TabletKey) error {
	r.pinnedMu.Lock()
	pinCount := r.pinned[key]
	r.pinnedMu.Unlock()
	if pinCount > 0 {
		return ErrPinned
	}

	b := r.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tablets[key]; !ok {
		return nil
	}
	delete(b.tablets, key)

	if r.durable != nil {
		if err := r.durable.DeleteTablet(key); err != nil {
			return err
		}
	}
	metrics.TabletsTotal.WithLabelValues(types.TabletStatusDeleted.String()).Inc()
	return nil
}

// Pin marks key as in-use by an open lifecycle transaction, blocking Del
// until a matching Unpin.
func (r *Registry) Pin(key types.TabletKey) {
	r.pinnedMu.Lock()
	defer r.pinnedMu.Unlock()
	if r.pinned[key] == 0 {
		metrics.TabletsPinned.Inc()
	}
	r.pinned[key]++
}

// Unpin releases one pin placed by Pin.
func (r *Registry) Unpin(key types.TabletKey) {
	r.pinnedMu.Lock()
	defer r.pinnedMu.Unlock()
	if r.pinned[key] <= 0 {
		log.WithTablet(int64(key.LogStreamID), int64(key.TabletID)).Warn().Msg("unpin called on a key with no outstanding pins")
		return
	}
	r.pinned[key]--
	if r.pinned[key] == 0 {
		delete(r.pinned, key)
		metrics.TabletsPinned.Dec()
	}
}

// Keys returns every published tablet key, for diagnostics and
// full-rebuild enumeration.
func (r *Registry) Keys() []types.TabletKey {
	var out []types.TabletKey
	for _, b := range r.buckets {
		b.mu.RLock()
		for k := range b.tablets {
			out = append(out, k)
		}
		b.mu.RUnlock()
	}
	return out
}
