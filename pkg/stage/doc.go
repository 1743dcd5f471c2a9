/*
Package stage implements the per-region traffic stage engine.

Each region's progression is an explicit state machine:

	Idle → HealthGating → Shifting(i) → Dwelling(i) → … → Completed
	                                  ↘ Aborted

Before any traffic is shifted the candidate must pass the initial health
gate; a gate failure aborts with zero traffic changes. During each dwell the
engine samples health at the stage's cadence and counts failed samples
within that window only; reaching the rollback threshold aborts the stage.
The final 100% stage has no dwell and completes after one healthy
confirmation.

The engine signals aborts through sentinel errors (ErrGateFailed,
ErrThresholdBreached, ErrShiftFailed, ErrConfirmationFailed); the
orchestrator owns the rollback fan-out.
*/
package stage
