/*
Package events provides an in-memory pub/sub broker for tablet and
transaction lifecycle events (tablet.created, tx.committed, and so on),
used for observability rather than any correctness-bearing path.
*/
package events
