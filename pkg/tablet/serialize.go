package tablet

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/nautical-db/tablet/pkg/types"
)

// imageVersion is the only supported tablet serialized image version.
const imageVersion int32 = 1

func init() {
	// RowKey/RowValue elements are encoded as interfaces; gob needs the
	// concrete types registered up front.
	gob.Register(int64(0))
	gob.Register(int32(0))
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(true)
	gob.Register([]byte(nil))
}

// wireImage mirrors the little-endian, length-prefixed layout described
// in the external interfaces: version, total length, meta, table store,
// storage schema, then (recursively) an optional next tablet.
type wireImage struct {
	Meta          Meta
	TableStore    TableStore
	StorageSchema types.StorageSchema
	HasNext       bool
	Next          *wireImage
}

func toWireImage(t *Tablet) *wireImage {
	img := &wireImage{
		Meta:          t.meta,
		TableStore:    t.tableStore,
		StorageSchema: t.storageSchema,
	}
	if t.NextTablet != nil {
		img.HasNext = true
		img.Next = toWireImage(t.NextTablet)
	}
	return img
}

func fromWireImage(img *wireImage, memtableMgr MemtableManager) *Tablet {
	t := &Tablet{
		meta:          img.Meta,
		tableStore:    img.TableStore,
		storageSchema: img.StorageSchema,
		readInfo:      readInfoFromSchema(img.StorageSchema),
		memtableMgr:   memtableMgr,
	}
	if img.HasNext && img.Next != nil {
		t.NextTablet = fromWireImage(img.Next, memtableMgr)
	}
	return t
}

// idHeaderSize is the fixed-width prefix DeserializeID reads: version(4)
// + body length(4) + log_stream_id(8) + tablet_id(8). Storing the key
// outside the gob body is what lets DeserializeID answer without
// decoding the tree.
const idHeaderSize = 24

// Serialize encodes the tablet into the on-disk image format: a 4-byte
// version, a 4-byte body length, an 8-byte log_stream_id and 8-byte
// tablet_id (the fast-path id header DeserializeID reads), then the
// gob-encoded body. Phase one of two-phase deserialization decodes
// exactly this; phase two (DeserializePostWork) is a separate step that
// re-registers macro block references, deliberately not done here.
func (t *Tablet) Serialize() ([]byte, error) {
	t.mu.RLock()
	img := toWireImage(t)
	logStreamID, tabletID := t.meta.LogStreamID, t.meta.TabletID
	t.mu.RUnlock()

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(img); err != nil {
		return nil, fmt.Errorf("tablet: Serialize: %w", err)
	}

	header := make([]byte, idHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(imageVersion))
	binary.LittleEndian.PutUint32(header[4:8], uint32(body.Len()))
	binary.LittleEndian.PutUint64(header[8:16], uint64(logStreamID))
	binary.LittleEndian.PutUint64(header[16:24], uint64(tabletID))

	out := make([]byte, 0, len(header)+body.Len())
	out = append(out, header...)
	out = append(out, body.Bytes()...)
	return out, nil
}

// LoadDeserialize performs phase one of two-phase deserialization: it
// decodes the tree but does not touch any macro block refcounts. Callers
// must invoke DeserializePostWork before treating the result as live.
func LoadDeserialize(buf []byte, memtableMgr MemtableManager) (*Tablet, error) {
	if len(buf) < idHeaderSize {
		return nil, fmt.Errorf("tablet: LoadDeserialize: buffer too short")
	}
	version := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if version != imageVersion {
		return nil, fmt.Errorf("tablet: LoadDeserialize: unsupported image version %d", version)
	}
	length := binary.LittleEndian.Uint32(buf[4:8])
	if int(idHeaderSize)+int(length) > len(buf) {
		return nil, fmt.Errorf("tablet: LoadDeserialize: truncated image (want %d bytes, have %d)", length, len(buf)-idHeaderSize)
	}

	var img wireImage
	if err := gob.NewDecoder(bytes.NewReader(buf[idHeaderSize : idHeaderSize+int(length)])).Decode(&img); err != nil {
		return nil, fmt.Errorf("tablet: LoadDeserialize: %w", err)
	}
	return fromWireImage(&img, memtableMgr), nil
}

// DeserializePostWork is phase two: it re-registers every SSTable macro
// block disk reference implied by the decoded image, walking into
// NextTablet if present. It must be called exactly once per
// LoadDeserialize call.
func (t *Tablet) DeserializePostWork() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableStore.IncRefAll()
	if t.NextTablet != nil {
		if err := t.NextTablet.DeserializePostWork(); err != nil {
			return err
		}
	}
	return nil
}

// Destroy decrements every macro block reference this tablet version
// registered. Symmetric with DeserializePostWork / New.
func (t *Tablet) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableStore.DecRefAll()
}

// DeserializeID reads only (log_stream_id, tablet_id) from a serialized
// image's fixed-width id header for fast-path indexing, without gob-
// decoding the rest of the tree.
func DeserializeID(buf []byte) (types.TabletKey, error) {
	if len(buf) < idHeaderSize {
		return types.TabletKey{}, fmt.Errorf("tablet: DeserializeID: buffer too short")
	}
	version := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if version != imageVersion {
		return types.TabletKey{}, fmt.Errorf("tablet: DeserializeID: unsupported image version %d", version)
	}
	return types.TabletKey{
		LogStreamID: types.LogStreamID(binary.LittleEndian.Uint64(buf[8:16])),
		TabletID:    types.TabletID(binary.LittleEndian.Uint64(buf[16:24])),
	}, nil
}
