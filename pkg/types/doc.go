/*
Package types defines the shared data model for the rollout controller.

The central entities mirror the lifecycle of a staged traffic shift:

	TransactionSpec        Operator input: service, image, regions, stages
	DeploymentTransaction  All-or-nothing unit of a multi-region rollout
	RegionPlan             Per-region progression state within a transaction
	StageSequence          Ordered traffic percentages ending at 100
	HealthSample           Single probe outcome, ephemeral
	RollbackEvent          Append-only audit record of a rollback
	Revision               A deployed revision and its current traffic share
	Promotion              Record of a stable-label swap, kept for emergency rollback

A transaction ends either succeeded (every region promoted) or rolled_back
(every region that carried candidate traffic reverted to its stable revision);
it is never left partially shifted.
*/
package types
