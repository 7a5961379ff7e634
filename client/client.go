package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nautical-db/tablet/api"
	"github.com/nautical-db/tablet/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Client is a thin wrapper over a gRPC connection to a tablet service,
// calling its hand-written methods directly rather than through a
// generated stub (see api.doc.go for why there is no generated stub).
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials addr. Callers wanting transport security should pass
// their own grpc.WithTransportCredentials in opts; the default is
// insecure, matching the absence of any security package in this tree.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return c.conn.Invoke(ctx, "/tablet.TabletService/"+method, in, out)
}

// BatchCreateTablets builds each tablet in args in one SLOG batch.
func (c *Client) BatchCreateTablets(ctx context.Context, args []api.CreateArgWire, createSCN types.SCN, isReplay bool) error {
	req := &api.CreateTabletsRequest{Args: args, CreateSCN: createSCN, IsReplay: isReplay}
	out := new(api.CreateTabletsResponse)
	return c.invoke(ctx, "BatchCreateTablets", req, out)
}

// BatchRemoveTablets removes the given tablet keys in one SLOG batch.
func (c *Client) BatchRemoveTablets(ctx context.Context, keys []types.TabletKey, isReplay bool) error {
	req := &api.RemoveTabletsRequest{Keys: keys, IsReplay: isReplay}
	out := new(api.RemoveTabletsResponse)
	return c.invoke(ctx, "BatchRemoveTablets", req, out)
}

// InsertRow inserts row into the tablet identified by key.
func (c *Client) InsertRow(ctx context.Context, key types.TabletKey, snapshot types.SCN, row types.Row, defensiveChecks bool) error {
	return c.dml(ctx, "InsertRow", key, snapshot, row, types.RowKey{}, defensiveChecks)
}

// UpdateRow applies row as an update-diff.
func (c *Client) UpdateRow(ctx context.Context, key types.TabletKey, snapshot types.SCN, row types.Row, defensiveChecks bool) error {
	return c.dml(ctx, "UpdateRow", key, snapshot, row, types.RowKey{}, defensiveChecks)
}

// DeleteRow applies row as a delete-diff.
func (c *Client) DeleteRow(ctx context.Context, key types.TabletKey, snapshot types.SCN, row types.Row, defensiveChecks bool) error {
	return c.dml(ctx, "DeleteRow", key, snapshot, row, types.RowKey{}, defensiveChecks)
}

// LockRow acquires a row lock without a visible mutation.
func (c *Client) LockRow(ctx context.Context, key types.TabletKey, snapshot types.SCN, rowKey types.RowKey) error {
	return c.dml(ctx, "LockRow", key, snapshot, types.Row{}, rowKey, false)
}

func (c *Client) dml(ctx context.Context, method string, key types.TabletKey, snapshot types.SCN, row types.Row, rowKey types.RowKey, defensiveChecks bool) error {
	req := &api.DMLRequest{
		Key:             key,
		SnapshotVersion: snapshot,
		Row:             row,
		RowKey:          rowKey,
		DefensiveChecks: defensiveChecks,
	}
	out := new(api.DMLResponse)
	return c.invoke(ctx, method, req, out)
}

// TableScan returns the read-source kinds backing key at snapshot.
func (c *Client) TableScan(ctx context.Context, key types.TabletKey, snapshot types.SCN) ([]string, error) {
	req := &api.ScanRequest{Key: key, SnapshotVersion: snapshot}
	out := new(api.ScanResponse)
	if err := c.invoke(ctx, "TableScan", req, out); err != nil {
		return nil, err
	}
	return out.SourceKinds, nil
}

// CheckSchemaVersion validates the caller's cached schema version against
// the tablet's max synced schema version.
func (c *Client) CheckSchemaVersion(ctx context.Context, key types.TabletKey, callerSchemaVersion, tenantRefreshedVersion int64) error {
	req := &api.CheckSchemaVersionRequest{
		Key:                    key,
		CallerSchemaVersion:    callerSchemaVersion,
		TenantRefreshedVersion: tenantRefreshedVersion,
	}
	out := new(api.CheckSchemaVersionResponse)
	return c.invoke(ctx, "CheckSchemaVersion", req, out)
}
