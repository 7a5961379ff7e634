package registry

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/nautical-db/tablet/pkg/tablet"
	"github.com/nautical-db/tablet/pkg/types"
)

var bucketTablets = []byte("tablets")

// Durable is the bbolt-backed index of the last published image per
// tablet key, so a restarted node can rebuild its in-memory registry
// without replaying the whole of SLOG. It is a supplementary index, not
// the source of truth: SLOG's PUT_TABLET/DELETE_TABLET records are.
type Durable struct {
	db *bolt.DB
}

// OpenDurable opens (creating if necessary) the tablet index database
// under dataDir.
func OpenDurable(dataDir string) (*Durable, error) {
	dbPath := filepath.Join(dataDir, "tablet_registry.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open durable index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTablets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Durable{db: db}, nil
}

func encodeKey(key types.TabletKey) []byte {
	return []byte(fmt.Sprintf("%020d:%020d", int64(key.LogStreamID), int64(key.TabletID)))
}

// PutTablet durably records t's current serialized image under key.
func (d *Durable) PutTablet(key types.TabletKey, t *tablet.Tablet) error {
	buf, err := t.Serialize()
	if err != nil {
		return fmt.Errorf("registry: PutTablet: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTablets).Put(encodeKey(key), buf)
	})
}

// DeleteTablet removes key's durable image.
func (d *Durable) DeleteTablet(key types.TabletKey) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTablets).Delete(encodeKey(key))
	})
}

// LoadAll reads every durably recorded image back, for registry
// rebuild at node startup. memtableMgrFor supplies the per-tablet
// memtable manager since it cannot be serialized.
func (d *Durable) LoadAll(memtableMgrFor func(types.TabletKey) tablet.MemtableManager) (map[types.TabletKey]*tablet.Tablet, error) {
	out := make(map[types.TabletKey]*tablet.Tablet)
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTablets)
		return b.ForEach(func(k, v []byte) error {
			key, err := tablet.DeserializeID(v)
			if err != nil {
				return fmt.Errorf("registry: LoadAll: %w", err)
			}
			t, err := tablet.LoadDeserialize(v, memtableMgrFor(key))
			if err != nil {
				return fmt.Errorf("registry: LoadAll: %w", err)
			}
			if err := t.DeserializePostWork(); err != nil {
				return fmt.Errorf("registry: LoadAll: %w", err)
			}
			out[key] = t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (d *Durable) Close() error {
	return d.db.Close()
}
