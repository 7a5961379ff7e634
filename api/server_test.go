package api

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nautical-db/tablet/pkg/tabletservice"
)

func TestToGRPCErrorMapsSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"nil", nil, codes.OK},
		{"invalid argument", tabletservice.ErrInvalidArgument, codes.InvalidArgument},
		{"bad null", tabletservice.ErrBadNull, codes.InvalidArgument},
		{"tablet not exist", tabletservice.ErrTabletNotExist, codes.NotFound},
		{"tablet exist", tabletservice.ErrTabletExist, codes.AlreadyExists},
		{"primary key duplicate", tabletservice.ErrPrimaryKeyDuplicate, codes.AlreadyExists},
		{"timeout", tabletservice.ErrTimeout, codes.DeadlineExceeded},
		{"not master", tabletservice.ErrNotMaster, codes.FailedPrecondition},
		{"replica not readable", tabletservice.ErrReplicaNotReadable, codes.FailedPrecondition},
		{"try lock row conflict", tabletservice.ErrTryLockRowConflict, codes.Aborted},
		{"schema eagain", tabletservice.ErrSchemaEAgain, codes.Aborted},
		{"unrecognized", fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toGRPCError(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			st, ok := status.FromError(got)
			if assert.True(t, ok) {
				assert.Equal(t, tt.code, st.Code())
			}
		})
	}
}

func TestToGRPCErrorUnwrapsWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("%w: extra context", tabletservice.ErrTryLockRowConflict)
	st, ok := status.FromError(toGRPCError(wrapped))
	if assert.True(t, ok) {
		assert.Equal(t, codes.Aborted, st.Code())
	}
}
