// Package slog implements the tablet service's durable storage log
// (SLOG): the write-ahead log for tablet metadata changes (create,
// remove, table-store swap). It is distinct from the transaction redo
// log in pkg/txctx, which covers row data rather than tablet metadata.
//
// The durable store is raft-boltdb's LogStore — a ready-made,
// strictly-ordered, indexed append-only record store — used here purely
// as a local disk log with no raft.Raft consensus loop attached.
package slog

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/nautical-db/tablet/pkg/metrics"
	"github.com/nautical-db/tablet/pkg/types"
)

// CommandCode tags the kind of SLOG entry, per the record format table.
type CommandCode uint16

const (
	CmdPutTablet CommandCode = iota + 1
	CmdDeleteTablet
	// CmdSyncTabletSeq carries an already-framed sync-tablet-seq MSD
	// record (see pkg/txctx.Context.FillSyncTabletSeqRedoLog) as its
	// payload verbatim; SLOG itself doesn't interpret the frame.
	CmdSyncTabletSeq
)

func (c CommandCode) String() string {
	switch c {
	case CmdPutTablet:
		return "PUT_TABLET"
	case CmdDeleteTablet:
		return "DELETE_TABLET"
	case CmdSyncTabletSeq:
		return "SYNC_TABLET_SEQ"
	default:
		return "UNKNOWN"
	}
}

// Record is one SLOG entry: a command code plus its command-specific
// payload, encoded as described in the record format table.
type Record struct {
	Cmd     CommandCode
	Payload []byte
}

// PutTabletRecord builds a PUT_TABLET record: disk_addr (32B) followed
// by the tablet's serialized image.
func PutTabletRecord(addr types.DiskAddr, serializedImage []byte) Record {
	buf := make([]byte, 32+len(serializedImage))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(addr.Offset))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(addr.Size))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(addr.FileID))
	buf[24] = byte(addr.Kind)
	copy(buf[32:], serializedImage)
	return Record{Cmd: CmdPutTablet, Payload: buf}
}

// SyncTabletSeqRecord wraps an already-framed sync-tablet-seq payload
// for durable append; framedPayload is produced by
// pkg/txctx.Context.FillSyncTabletSeqRedoLog.
func SyncTabletSeqRecord(framedPayload []byte) Record {
	return Record{Cmd: CmdSyncTabletSeq, Payload: framedPayload}
}

// DeleteTabletRecord builds a DELETE_TABLET record: log_stream_id (8B)
// followed by tablet_id (8B).
func DeleteTabletRecord(key types.TabletKey) Record {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(key.LogStreamID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(key.TabletID))
	return Record{Cmd: CmdDeleteTablet, Payload: buf}
}

// ParsePutTablet decodes a PUT_TABLET record's payload.
func ParsePutTablet(payload []byte) (types.DiskAddr, []byte, error) {
	if len(payload) < 32 {
		return types.DiskAddr{}, nil, fmt.Errorf("slog: PUT_TABLET payload too short")
	}
	addr := types.DiskAddr{
		Offset: int64(binary.LittleEndian.Uint64(payload[0:8])),
		Size:   int64(binary.LittleEndian.Uint64(payload[8:16])),
		FileID: int64(binary.LittleEndian.Uint64(payload[16:24])),
		Kind:   types.DiskAddrKind(payload[24]),
	}
	return addr, payload[32:], nil
}

// ParseDeleteTablet decodes a DELETE_TABLET record's payload.
func ParseDeleteTablet(payload []byte) (types.TabletKey, error) {
	if len(payload) < 16 {
		return types.TabletKey{}, fmt.Errorf("slog: DELETE_TABLET payload too short")
	}
	return types.TabletKey{
		LogStreamID: types.LogStreamID(binary.LittleEndian.Uint64(payload[0:8])),
		TabletID:    types.TabletID(binary.LittleEndian.Uint64(payload[8:16])),
	}, nil
}

func encodeRecord(r Record) []byte {
	buf := make([]byte, 2+len(r.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.Cmd))
	copy(buf[2:], r.Payload)
	return buf
}

func decodeRecord(buf []byte) (Record, error) {
	if len(buf) < 2 {
		return Record{}, fmt.Errorf("slog: record too short")
	}
	return Record{Cmd: CommandCode(binary.LittleEndian.Uint16(buf[0:2])), Payload: buf[2:]}, nil
}

// Token is the handle returned by Persist; it must be passed unmodified
// to Swap. The write-then-swap contract makes Swap infallible given a
// valid token — if the token's batch is not at the expected index, that
// indicates registry corruption and is a fatal bug, not a retryable
// error.
type Token struct {
	firstIndex uint64
	lastIndex  uint64
}

// Writer is the durable SLOG writer backing component E. Persist appends
// one batch atomically; Swap is the CAS step on the tablet registry a
// caller performs once Persist has returned successfully.
type Writer struct {
	store *raftboltdb.BoltStore
	term  uint64
}

// Open opens (creating if necessary) the SLOG database at path.
func Open(path string) (*Writer, error) {
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("slog: failed to open log store: %w", err)
	}
	return &Writer{store: store, term: 1}, nil
}

// Close closes the underlying log store.
func (w *Writer) Close() error {
	return w.store.Close()
}

// Persist durably appends records as one contiguous, atomically
// committed batch and returns a Token identifying it.
func (w *Writer) Persist(records []Record) (Token, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SLOGWriteDuration)

	if len(records) == 0 {
		return Token{}, fmt.Errorf("slog: Persist: empty batch")
	}

	first, err := w.store.LastIndex()
	if err != nil {
		return Token{}, fmt.Errorf("slog: Persist: %w", err)
	}
	first++

	logs := make([]*raft.Log, len(records))
	for i, r := range records {
		logs[i] = &raft.Log{
			Index: first + uint64(i),
			Term:  w.term,
			Type:  raft.LogCommand,
			Data:  encodeRecord(r),
		}
		metrics.SLOGEntriesWrittenTotal.WithLabelValues(r.Cmd.String()).Inc()
	}
	if err := w.store.StoreLogs(logs); err != nil {
		return Token{}, fmt.Errorf("slog: Persist: %w", err)
	}
	return Token{firstIndex: first, lastIndex: first + uint64(len(records)) - 1}, nil
}

// Swap is the publication step following a successful Persist: it is a
// thin marker call — the actual CAS happens on pkg/registry — kept here
// so call sites read as the spec's single "write-then-swap" primitive.
// A non-nil error from the registry CAS after a valid token is the
// "impossible" case the spec calls a fatal invariant break; callers
// should abort the process rather than retry.
func (w *Writer) Swap(tok Token, casFn func() error) error {
	if tok.firstIndex == 0 {
		return fmt.Errorf("slog: Swap: invalid token")
	}
	return casFn()
}

// ReadFrom replays every record from index (inclusive) to the log's
// current end, in order — used to rebuild the registry on startup.
func (w *Writer) ReadFrom(index uint64, fn func(Record) error) error {
	last, err := w.store.LastIndex()
	if err != nil {
		return fmt.Errorf("slog: ReadFrom: %w", err)
	}
	for i := index; i <= last; i++ {
		var entry raft.Log
		if err := w.store.GetLog(i, &entry); err != nil {
			return fmt.Errorf("slog: ReadFrom: index %d: %w", i, err)
		}
		rec, err := decodeRecord(entry.Data)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// FirstIndex and LastIndex expose the log store's bounds for diagnostics
// and replay planning.
func (w *Writer) FirstIndex() (uint64, error) { return w.store.FirstIndex() }
func (w *Writer) LastIndex() (uint64, error)  { return w.store.LastIndex() }
