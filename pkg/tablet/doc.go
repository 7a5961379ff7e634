/*
Package tablet implements the tablet object (component B): the
versioned bundle of meta, storage schema, table store, read-info, and
autoinc sequence that the tablet service (pkg/tabletservice) and the
memtable manager (pkg/memtable) operate on.

A *Tablet is copy-on-write. Every mutating method returns a new version
produced by Clone; the caller (pkg/tabletservice) is responsible for
durably writing the SLOG record for the mutation and then
compare-and-swapping the new version into the registry (pkg/registry).
If the swap fails, the old version — still valid, since Clone never
touched it — remains authoritative.
*/
package tablet
