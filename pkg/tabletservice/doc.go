// Package tabletservice implements component E of the tablet engine: the
// per-log-stream façade that clients and the transaction layer drive.
// It owns tablet lifecycle (batch create/remove, table store swap), DML
// entry points (insert/update/delete/lock), snapshot scans, and the SLOG
// write-then-swap protocol that makes every metadata mutation crash-safe.
package tabletservice
