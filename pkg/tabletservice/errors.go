package tabletservice

import "errors"

// Error taxonomy produced by the service, per the external interface
// contract. These are sentinel errors rather than an error code enum so
// callers can use errors.Is against them directly.
var (
	ErrInvalidArgument         = errors.New("tabletservice: invalid argument")
	ErrNotInit                 = errors.New("tabletservice: not initialized")
	ErrTimeout                 = errors.New("tabletservice: timeout")
	ErrTabletNotExist          = errors.New("tabletservice: tablet not exist")
	ErrTabletExist             = errors.New("tabletservice: tablet exist")
	ErrNotMaster               = errors.New("tabletservice: not master")
	ErrReplicaNotReadable      = errors.New("tabletservice: replica not readable")
	ErrSnapshotDiscarded       = errors.New("tabletservice: snapshot discarded")
	ErrPrimaryKeyDuplicate     = errors.New("tabletservice: primary key duplicate")
	ErrTryLockRowConflict      = errors.New("tabletservice: try lock row conflict")
	ErrTransactionSetViolation = errors.New("tabletservice: transaction set violation")
	ErrDefensiveCheck          = errors.New("tabletservice: defensive check failed")
	ErrBadNull                 = errors.New("tabletservice: bad null value")
	ErrBatchedMultiStmtRollback = errors.New("tabletservice: batched multi-statement rollback")
	ErrSchemaEAgain            = errors.New("tabletservice: schema eagain")
	ErrSchemaNotUptodate       = errors.New("tabletservice: schema not uptodate")
	ErrSchemaError             = errors.New("tabletservice: schema error")
	ErrMinorFreezeNotAllow     = errors.New("tabletservice: minor freeze not allow")
	ErrEAgain                  = errors.New("tabletservice: eagain")
)
