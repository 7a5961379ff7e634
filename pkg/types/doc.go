/*
Package types defines the shared identifiers, enums, and small value types
used across every tablet-engine component (A through F).

# Architecture

This package has no behavior of its own — it is the vocabulary the other
packages share so that pkg/registry, pkg/tablet, pkg/memtable, pkg/txctx,
pkg/tabletservice, and pkg/planop can refer to the same identity, schema,
and snapshot concepts without importing each other.

Core groups:

  - Identity: LogStreamID, TabletID, TabletKey, the reserved inner-tablet
    range.
  - Storage addressing: DiskAddr, DiskAddrKind.
  - Schema: StorageSchema, ColumnSchema, CompatMode.
  - Lifecycle: TabletStatus, TxData, HAStatus, BindingInfo.
  - Sequences: AutoincSeq.
  - Rows: RowOp, RowKey, RowValue.

# Thread safety

Every type here is a plain value or a pointer to one; none carry their own
locks. Callers synchronize access the way the owning component's contract
requires (see pkg/registry and pkg/txctx for the two places that matter).
*/
package types
