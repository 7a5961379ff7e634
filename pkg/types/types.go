package types

import "fmt"

// LogStreamID identifies the log stream (consensus/redo unit) a tablet
// belongs to. All tablets on one log stream share a redo log.
type LogStreamID int64

// TabletID identifies a tablet within a log stream. Values below
// InnerTabletIDUpperBound are reserved for inner tablets (transaction
// data, lock table, tx context) and are treated specially by callers
// that enumerate user tablets.
type TabletID int64

// InnerTabletIDUpperBound is the exclusive upper bound of the reserved
// inner-tablet id range.
const InnerTabletIDUpperBound TabletID = 1 << 20

// IsInner reports whether id falls in the reserved inner-tablet range.
func (id TabletID) IsInner() bool {
	return id < InnerTabletIDUpperBound
}

// TabletKey is the composite identity of a tablet: (log_stream_id, tablet_id).
type TabletKey struct {
	LogStreamID LogStreamID
	TabletID    TabletID
}

func (k TabletKey) String() string {
	return fmt.Sprintf("ls=%d/tablet=%d", k.LogStreamID, k.TabletID)
}

// DiskAddrKind classifies where a tablet's serialized form lives.
type DiskAddrKind uint8

const (
	DiskAddrNone DiskAddrKind = iota
	DiskAddrMemory
	DiskAddrDisk
)

func (k DiskAddrKind) String() string {
	switch k {
	case DiskAddrMemory:
		return "memory"
	case DiskAddrDisk:
		return "disk"
	default:
		return "none"
	}
}

// DiskAddr describes where a tablet's serialized image lives.
type DiskAddr struct {
	Offset int64
	Size   int64
	FileID int64
	Kind   DiskAddrKind
}

// IsValid reports whether the address names actual storage.
func (a DiskAddr) IsValid() bool {
	return a.Kind != DiskAddrNone
}

// TabletStatus is the tablet's lifecycle-transaction status. A tablet is
// visible to DML and reads iff its status is Normal.
type TabletStatus int32

const (
	TabletStatusNormal TabletStatus = iota
	TabletStatusCreating
	TabletStatusDeleting
	TabletStatusDeleted
	TabletStatusMax
)

func (s TabletStatus) String() string {
	switch s {
	case TabletStatusNormal:
		return "NORMAL"
	case TabletStatusCreating:
		return "CREATING"
	case TabletStatusDeleting:
		return "DELETING"
	case TabletStatusDeleted:
		return "DELETED"
	default:
		return "MAX"
	}
}

// TxData is the tablet's current lifecycle-transaction state. It is
// carried in the tablet meta and mutated by the multi-source-data replay
// hooks as the owning transaction progresses.
type TxData struct {
	TxID         string
	TabletStatus TabletStatus
	TxLogTS      int64
}

// RestoreStatus and DataStatus classify a tablet's HA state independent
// of its lifecycle transaction; a tablet whose HAStatus is not None
// refuses user reads (replica-not-readable).
type RestoreStatus int32

const (
	RestoreStatusNone RestoreStatus = iota
	RestoreStatusPending
	RestoreStatusInProgress
	RestoreStatusFailed
)

type DataStatus int32

const (
	DataStatusNormal DataStatus = iota
	DataStatusIncomplete
	DataStatusUnmerged
)

// HAStatus is the tuple of data-status x restore-status x expected-status
// that governs whether a tablet's data may be read by user queries.
type HAStatus struct {
	DataStatus      DataStatus
	RestoreStatus   RestoreStatus
	ExpectedStatus  DataStatus
}

// IsNone reports whether the HA status allows ordinary user reads.
func (h HAStatus) IsNone() bool {
	return h.DataStatus == DataStatusNormal && h.RestoreStatus == RestoreStatusNone
}

// BindingInfo links a tablet to its auxiliary large-object tablets.
type BindingInfo struct {
	LobMetaTabletID  TabletID
	LobPieceTabletID TabletID
	// HasLob is false for tablets with no LOB columns; the two ids above
	// are meaningless in that case.
	HasLob bool
}

// AutoincSeq is the tablet's monotone autoincrement sequence state,
// reserved and advanced in cache-sized intervals by
// fetch_tablet_autoinc_seq_cache.
type AutoincSeq struct {
	CurrentValue int64
	CacheSize    int64
	SyncValue    int64 // last value durably recorded via a sync-tablet-seq redo record
}

// CompatMode selects SQL-dialect-sensitive behavior (nullability,
// identifier case folding) for a tablet's storage schema.
type CompatMode int32

const (
	CompatModeMySQL CompatMode = iota
	CompatModeOracle
)

// IndexType classifies a storage schema's index kind.
type IndexType int32

const (
	IndexTypePrimary IndexType = iota
	IndexTypeUnique
	IndexTypeNormal
)

// ColumnSchema describes one column of a storage schema.
type ColumnSchema struct {
	ColumnID   int64
	Name       string
	IsRowkey   bool
	IsNullable bool
	IsLob      bool
	DataType   string
}

// StorageSchema is the logical schema snapshot a tablet carries: columns,
// row-key prefix, compat-mode, index-kind, and schema-version.
type StorageSchema struct {
	Columns           []ColumnSchema
	RowkeyColumnCount int
	CompatMode        CompatMode
	IndexType         IndexType
	SchemaVersion     int64
}

// RowkeyColumns returns the schema's row-key prefix in declared order.
func (s *StorageSchema) RowkeyColumns() []ColumnSchema {
	if s.RowkeyColumnCount <= 0 || s.RowkeyColumnCount > len(s.Columns) {
		return nil
	}
	return s.Columns[:s.RowkeyColumnCount]
}

// ReadInfo is the precomputed projection used by all readers of a tablet:
// column projection, rowkey length, and oracle/mysql-mode flag.
type ReadInfo struct {
	ColumnProjection []int64
	RowkeyLength     int
	IsOracleMode     bool
}

// SCN (log-sequence number / snapshot version) orders redo and visibility
// across the whole system. Both start_scn and snapshot_version are SCNs.
type SCN int64

// MaxSCN is the largest representable snapshot version; used for
// "read everything ever committed" scans.
const MaxSCN SCN = 1<<63 - 1

// RowOp tags the kind of mutation a row callback represents.
type RowOp int32

const (
	RowOpInsert RowOp = iota
	RowOpUpdate
	RowOpDelete
	RowOpLock
)

func (op RowOp) String() string {
	switch op {
	case RowOpInsert:
		return "INSERT"
	case RowOpUpdate:
		return "UPDATE"
	case RowOpDelete:
		return "DELETE"
	case RowOpLock:
		return "LOCK"
	default:
		return "UNKNOWN"
	}
}

// RowKey is an ordered tuple of encoded row-key column values. Two RowKeys
// are compared column-by-column in declaration order.
type RowKey []any

// RowValue is an ordered tuple of encoded non-key column values, indexed
// the same way as StorageSchema.Columns[RowkeyColumnCount:].
type RowValue []any

// Row pairs a key and value with the MVCC version it was written at.
type Row struct {
	Key           RowKey
	Value         RowValue
	CommitVersion SCN
	Op            RowOp
}
