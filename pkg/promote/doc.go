/*
Package promote implements the promotion and retention manager.

On transaction success each region's candidate revision is re-labelled as
stable, an atomic label swap rather than a traffic change, since the final stage
already moved 100% of traffic. The prior stable revision is recorded so the
SLO watcher has an emergency rollback target.

After promotion the oldest zero-traffic revisions are pruned until the
service is back within the retention count. A revision carrying traffic is
never deleted; pruning shifts to the next-oldest zero-traffic revision.
Deletion failures are non-fatal and retried on the next promotion cycle.
*/
package promote
