// Package orchestrator drives a multi-region deployment as one logical
// transaction. It deploys the candidate dark everywhere, gates every region
// on health before any traffic moves, walks the regions through their stage
// sequences one at a time, and either promotes all regions or rolls back
// every region that was touched.
package orchestrator
