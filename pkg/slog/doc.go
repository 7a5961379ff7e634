/*
Package slog implements the SLOG writer: a durable, strictly-ordered
record log for tablet metadata changes, as opposed to pkg/txctx's
per-transaction row-data redo log.
*/
package slog
