/*
Package store persists the controller's audit trail and carry-over state in
BoltDB: terminal deployment transactions, the append-only rollback event
log, the latest promotion per service (the SLO watcher's emergency rollback
target), and retention deletions that failed and must be retried on the next
promotion cycle. Values are JSON-marshalled into a bucket per entity.
*/
package store
