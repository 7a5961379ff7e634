package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nautical-db/tablet/pkg/tabletservice"
	"github.com/nautical-db/tablet/pkg/types"
)

// Server exposes a Service over gRPC using the JSON codec registered in
// codec.go. One Server fronts exactly one log stream's Service, the
// same scoping tabletservice.Service itself uses.
type Server struct {
	svc  *tabletservice.Service
	grpc *grpc.Server
}

// NewServer wraps svc in a gRPC server. opts are forwarded to
// grpc.NewServer so callers can add their own interceptors or transport
// credentials.
func NewServer(svc *tabletservice.Service, opts ...grpc.ServerOption) *Server {
	s := &Server{svc: svc}
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Start listens on addr and serves until Stop is called or the listener
// errors.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve runs the gRPC server on an already-open listener. Exported
// separately from Start so tests can serve over an in-memory listener
// (e.g. bufconn) instead of a real TCP socket.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before shutting down.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "tablet.TabletService",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BatchCreateTablets", Handler: batchCreateTabletsHandler},
		{MethodName: "BatchRemoveTablets", Handler: batchRemoveTabletsHandler},
		{MethodName: "InsertRow", Handler: insertRowHandler},
		{MethodName: "UpdateRow", Handler: updateRowHandler},
		{MethodName: "DeleteRow", Handler: deleteRowHandler},
		{MethodName: "LockRow", Handler: lockRowHandler},
		{MethodName: "TableScan", Handler: tableScanHandler},
		{MethodName: "CheckSchemaVersion", Handler: checkSchemaVersionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tablet.proto",
}

func dmlRunningCtx(key types.TabletKey, snapshot types.SCN, timeoutUnixMS int64, defensive bool) *tabletservice.DMLRunningCtx {
	rc := &tabletservice.DMLRunningCtx{
		LogStreamID:     key.LogStreamID,
		TabletID:        key.TabletID,
		SnapshotVersion: snapshot,
		DefensiveChecks: defensive,
	}
	if timeoutUnixMS > 0 {
		rc.Timeout = time.UnixMilli(timeoutUnixMS)
	}
	return rc
}

func batchCreateTabletsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateTabletsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req any) (any, error) {
		r := req.(*CreateTabletsRequest)
		s := srv.(*Server)
		args := make([]tabletservice.CreateArg, len(r.Args))
		for i, a := range r.Args {
			args[i] = tabletservice.CreateArg{
				Key:          a.Key,
				DataTabletID: a.DataTabletID,
				Schema:       a.Schema,
				CompatMode:   a.CompatMode,
			}
		}
		if err := s.svc.BatchCreateTablets(args, r.CreateSCN, r.IsReplay); err != nil {
			return nil, toGRPCError(err)
		}
		return &CreateTabletsResponse{}, nil
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tablet.TabletService/BatchCreateTablets"}, run)
}

func batchRemoveTabletsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoveTabletsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req any) (any, error) {
		r := req.(*RemoveTabletsRequest)
		s := srv.(*Server)
		if err := s.svc.BatchRemoveTablets(r.Keys, r.IsReplay); err != nil {
			return nil, toGRPCError(err)
		}
		return &RemoveTabletsResponse{}, nil
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tablet.TabletService/BatchRemoveTablets"}, run)
}

func insertRowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return dmlHandler(srv, ctx, dec, interceptor, "InsertRow", func(s *tabletservice.Service, ctx context.Context, rc *tabletservice.DMLRunningCtx, r *DMLRequest) error {
		return s.InsertRow(ctx, rc, r.Row)
	})
}

func updateRowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return dmlHandler(srv, ctx, dec, interceptor, "UpdateRow", func(s *tabletservice.Service, ctx context.Context, rc *tabletservice.DMLRunningCtx, r *DMLRequest) error {
		return s.UpdateRow(ctx, rc, r.Row)
	})
}

func deleteRowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return dmlHandler(srv, ctx, dec, interceptor, "DeleteRow", func(s *tabletservice.Service, ctx context.Context, rc *tabletservice.DMLRunningCtx, r *DMLRequest) error {
		return s.DeleteRow(ctx, rc, r.Row)
	})
}

func lockRowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return dmlHandler(srv, ctx, dec, interceptor, "LockRow", func(s *tabletservice.Service, ctx context.Context, rc *tabletservice.DMLRunningCtx, r *DMLRequest) error {
		return s.LockRow(ctx, rc, r.RowKey)
	})
}

func dmlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor, method string, call func(*tabletservice.Service, context.Context, *tabletservice.DMLRunningCtx, *DMLRequest) error) (any, error) {
	in := new(DMLRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req any) (any, error) {
		r := req.(*DMLRequest)
		s := srv.(*Server)
		rc := dmlRunningCtx(r.Key, r.SnapshotVersion, r.TimeoutUnixMS, r.DefensiveChecks)
		if err := call(s.svc, ctx, rc, r); err != nil {
			return nil, toGRPCError(err)
		}
		return &DMLResponse{}, nil
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tablet.TabletService/" + method}, run)
}

func tableScanHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req any) (any, error) {
		r := req.(*ScanRequest)
		s := srv.(*Server)
		rc := dmlRunningCtx(r.Key, r.SnapshotVersion, r.TimeoutUnixMS, false)
		sources, err := s.svc.TableScan(ctx, rc)
		if err != nil {
			return nil, toGRPCError(err)
		}
		out := &ScanResponse{SourceKinds: make([]string, len(sources))}
		for i, src := range sources {
			out.SourceKinds[i] = src.Kind()
		}
		return out, nil
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tablet.TabletService/TableScan"}, run)
}

func checkSchemaVersionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckSchemaVersionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	run := func(ctx context.Context, req any) (any, error) {
		r := req.(*CheckSchemaVersionRequest)
		s := srv.(*Server)
		if err := s.svc.CheckSchemaVersion(r.Key, r.CallerSchemaVersion, r.TenantRefreshedVersion); err != nil {
			return nil, toGRPCError(err)
		}
		return &CheckSchemaVersionResponse{}, nil
	}
	if interceptor == nil {
		return run(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: "/tablet.TabletService/CheckSchemaVersion"}, run)
}

// toGRPCError maps a tabletservice sentinel error to a gRPC status code.
// Anything unrecognized becomes codes.Internal, matching the "fatal /
// invariant break" class in spec.md §7: those are not meant to be
// interpreted by the caller.
func toGRPCError(err error) error {
	switch {
	case err == nil:
		return nil
	case isAny(err, tabletservice.ErrInvalidArgument, tabletservice.ErrBadNull):
		return status.Error(codes.InvalidArgument, err.Error())
	case isAny(err, tabletservice.ErrTabletNotExist):
		return status.Error(codes.NotFound, err.Error())
	case isAny(err, tabletservice.ErrTabletExist, tabletservice.ErrPrimaryKeyDuplicate):
		return status.Error(codes.AlreadyExists, err.Error())
	case isAny(err, tabletservice.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case isAny(err, tabletservice.ErrNotMaster, tabletservice.ErrReplicaNotReadable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case isAny(err,
		tabletservice.ErrTryLockRowConflict,
		tabletservice.ErrTransactionSetViolation,
		tabletservice.ErrSchemaEAgain,
		tabletservice.ErrEAgain,
		tabletservice.ErrMinorFreezeNotAllow,
		tabletservice.ErrSnapshotDiscarded):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// isAny reports whether err wraps any of targets, per errors.Is — several
// of Service's sentinels get wrapped with extra context via fmt.Errorf's
// %w verb (see LockRow, validateRow), so a plain == comparison would miss
// them.
func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
