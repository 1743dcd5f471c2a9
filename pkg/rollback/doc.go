/*
Package rollback implements the rollback controller.

Rollback reverts a region to its last-known-stable revision with a single
idempotent traffic call (stable=100%, candidate=0%). The controller is the
shared entry point for every rollback path (stage failure, operator abort,
SLO burn) and serializes calls per target so concurrent triggers for
the same region cannot race.

A RollbackEvent is emitted and recorded on every invocation, including when
the underlying traffic call fails; exhausted retries are escalated through
ErrRollbackFailed rather than retried forever.
*/
package rollback
