// Package lob implements the out-of-row large-object indirection that
// DML routes LOB columns through: allocating a logical LOB id for new
// values, writing/erasing out-of-row chunks, and leaving small values
// inline. The storage format of the chunks themselves is orthogonal to
// this contract (component E only needs the routing decision), so this
// package provides an in-memory Manager sufficient to exercise that
// contract end to end.
package lob

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nautical-db/tablet/pkg/types"
)

// ErrLobNotFound is returned by Delete and Read when the logical LOB id
// has no recorded chunks.
var ErrLobNotFound = errors.New("lob: logical id not found")

// inlineThreshold is the largest value, in bytes, that travels inline
// rather than through out-of-row chunk storage.
const inlineThreshold = 256

// AccessParam mirrors the source's LOB access parameter: the identity
// and snapshot context a LOB operation runs under.
type AccessParam struct {
	TenantID        int64
	LogStreamID     types.LogStreamID
	TabletID        types.TabletID
	ColumnID        int64
	CollationType   int32
	SnapshotVersion types.SCN
}

// Locator is what a row stores in place of an out-of-row LOB value: a
// logical id plus enough information for a reader to resolve it.
type Locator struct {
	LogicalID int64
	Inline    bool
	InlineVal []byte
}

// Manager routes LOB column values during DML, allocating logical ids
// for out-of-row values and discarding prior chunks on delete/update.
type Manager struct {
	nextID int64

	mu     sync.RWMutex
	chunks map[int64][]byte
}

// NewManager creates an empty LOB manager.
func NewManager() *Manager {
	return &Manager{chunks: make(map[int64][]byte)}
}

// Insert routes a new LOB column value: small values travel inline;
// larger ones get a freshly allocated logical id and out-of-row chunk.
func (m *Manager) Insert(param AccessParam, value []byte) (Locator, error) {
	if len(value) <= inlineThreshold {
		return Locator{Inline: true, InlineVal: value}, nil
	}

	id := atomic.AddInt64(&m.nextID, 1)
	m.mu.Lock()
	m.chunks[id] = value
	m.mu.Unlock()
	return Locator{LogicalID: id}, nil
}

// Update erases the prior out-of-row value (if any) and routes the new
// one exactly as Insert would.
func (m *Manager) Update(param AccessParam, old Locator, value []byte) (Locator, error) {
	if !old.Inline {
		m.mu.Lock()
		delete(m.chunks, old.LogicalID)
		m.mu.Unlock()
	}
	return m.Insert(param, value)
}

// Delete erases the out-of-row chunk a locator points to, if any.
func (m *Manager) Delete(param AccessParam, loc Locator) error {
	if loc.Inline {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chunks[loc.LogicalID]; !ok {
		return ErrLobNotFound
	}
	delete(m.chunks, loc.LogicalID)
	return nil
}

// Read resolves a locator back to its value.
func (m *Manager) Read(param AccessParam, loc Locator) ([]byte, error) {
	if loc.Inline {
		return loc.InlineVal, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.chunks[loc.LogicalID]
	if !ok {
		return nil, ErrLobNotFound
	}
	return v, nil
}
