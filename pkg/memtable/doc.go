/*
Package memtable implements the memtable manager (component C): the
per-tablet ordered list of active and frozen memtables, freeze
backpressure, and replay lookup by log-ts.
*/
package memtable
