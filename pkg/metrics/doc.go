/*
Package metrics defines the Prometheus instrumentation for the tablet
engine: registry publication/CAS counters, memtable backpressure,
transaction outcomes, SLOG write latency, DML outcomes, and plan
traversal counts. Handler exposes them for scraping; Timer is a small
helper for histogram observation.
*/
package metrics
