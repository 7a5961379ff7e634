package api

import "github.com/nautical-db/tablet/pkg/types"

// CreateTabletsRequest/Response carry BatchCreateTablets over the wire.
type CreateTabletsRequest struct {
	Args      []CreateArgWire `json:"args"`
	CreateSCN types.SCN       `json:"create_scn"`
	IsReplay  bool            `json:"is_replay"`
}

// CreateArgWire mirrors tabletservice.CreateArg with JSON tags; kept
// separate so wire shape changes never ripple into the internal type.
type CreateArgWire struct {
	Key          types.TabletKey     `json:"key"`
	DataTabletID types.TabletID      `json:"data_tablet_id"`
	Schema       types.StorageSchema `json:"schema"`
	CompatMode   types.CompatMode    `json:"compat_mode"`
}

type CreateTabletsResponse struct{}

// RemoveTabletsRequest/Response carry BatchRemoveTablets over the wire.
type RemoveTabletsRequest struct {
	Keys     []types.TabletKey `json:"keys"`
	IsReplay bool              `json:"is_replay"`
}

type RemoveTabletsResponse struct{}

// DMLRequest carries any single-row DML call (insert/update/delete/lock).
type DMLRequest struct {
	Key             types.TabletKey `json:"key"`
	SnapshotVersion types.SCN       `json:"snapshot_version"`
	TimeoutUnixMS   int64           `json:"timeout_unix_ms,omitempty"`
	DefensiveChecks bool            `json:"defensive_checks"`
	Row             types.Row       `json:"row,omitempty"`
	RowKey          types.RowKey    `json:"row_key,omitempty"`
}

type DMLResponse struct{}

// ScanRequest/Response carry TableScan / TableRescan over the wire. The
// response only summarizes each read source's kind: the sources
// themselves (live SSTable/memtable handles) never leave the process.
type ScanRequest struct {
	Key             types.TabletKey `json:"key"`
	SnapshotVersion types.SCN       `json:"snapshot_version"`
	TimeoutUnixMS   int64           `json:"timeout_unix_ms,omitempty"`
}

type ScanResponse struct {
	SourceKinds []string `json:"source_kinds"`
}

// CheckSchemaVersionRequest/Response carry CheckSchemaVersion over the
// wire.
type CheckSchemaVersionRequest struct {
	Key                    types.TabletKey `json:"key"`
	CallerSchemaVersion    int64           `json:"caller_schema_version"`
	TenantRefreshedVersion int64           `json:"tenant_refreshed_version"`
}

type CheckSchemaVersionResponse struct{}

// ErrorResponse is the JSON body returned alongside a non-OK gRPC status
// for clients that want the error text without parsing gRPC status
// details.
type ErrorResponse struct {
	Message string `json:"message"`
}
