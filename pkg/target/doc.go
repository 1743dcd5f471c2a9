/*
Package target abstracts the deployment platform the controller drives.

The Target interface covers the six operations the rollout needs: deploy a
traffic-dark revision, set a candidate/stable traffic split, describe and
list revisions, delete a revision, and move a label. Two implementations:

  - CloudRun drives the Cloud Run Admin API v2 (services + revisions
    clients). Traffic splits are expressed as revision-pinned TrafficTarget
    assignments so nothing implicitly follows "latest".
  - Fake is an in-memory target for tests and dry runs, with a call log and
    failure injection.

Retry provides the bounded exponential backoff used around target calls.
*/
package target
