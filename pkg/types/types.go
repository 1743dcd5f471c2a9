package types

import (
	"fmt"
	"time"
)

// TransactionStatus represents the overall state of a deployment transaction
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionInProgress TransactionStatus = "in_progress"
	TransactionSucceeded  TransactionStatus = "succeeded"
	TransactionRolledBack TransactionStatus = "rolled_back"
)

// RegionStatus represents the state of a single region within a transaction
type RegionStatus string

const (
	RegionPending        RegionStatus = "pending"
	RegionHealthChecking RegionStatus = "health_checking"
	RegionShifting       RegionStatus = "shifting"
	RegionPromoted       RegionStatus = "promoted"
	RegionRolledBack     RegionStatus = "rolled_back"
	RegionFailed         RegionStatus = "failed"
)

// RollbackReason identifies what triggered a rollback
type RollbackReason string

const (
	ReasonStageFailure RollbackReason = "stage_failure"
	ReasonManual       RollbackReason = "manual"
	ReasonSLOBurn      RollbackReason = "slo_burn"
)

// ServiceRef identifies a regional service on the deployment target
type ServiceRef struct {
	Project string `yaml:"project" json:"project"`
	Region  string `yaml:"region" json:"region"`
	Service string `yaml:"service" json:"service"`
}

// Name returns the fully qualified resource name for the service
func (r ServiceRef) Name() string {
	return fmt.Sprintf("projects/%s/locations/%s/services/%s", r.Project, r.Region, r.Service)
}

// String returns a short human-readable identifier (service@region)
func (r ServiceRef) String() string {
	return fmt.Sprintf("%s@%s", r.Service, r.Region)
}

// Stage is a single step in a traffic progression
type Stage struct {
	// Percent is the candidate revision's traffic share at this stage.
	// The stable revision implicitly holds the complement.
	Percent int `yaml:"percent" json:"percent"`

	// Dwell is how long to hold at this stage while sampling health.
	// The final (100%) stage has no dwell.
	Dwell Duration `yaml:"dwell,omitempty" json:"dwell,omitempty"`

	// Cadence is the health sampling interval during the dwell
	Cadence Duration `yaml:"cadence,omitempty" json:"cadence,omitempty"`
}

// StageSequence is an ordered traffic progression ending at 100%
type StageSequence []Stage

// Validate checks that percentages are strictly increasing, within (0,100],
// and that the sequence ends at 100
func (s StageSequence) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("stage sequence is empty")
	}
	prev := 0
	for i, stage := range s {
		if stage.Percent <= prev {
			return fmt.Errorf("stage %d: percent %d must be greater than %d", i, stage.Percent, prev)
		}
		if stage.Percent > 100 {
			return fmt.Errorf("stage %d: percent %d exceeds 100", i, stage.Percent)
		}
		prev = stage.Percent
	}
	if s[len(s)-1].Percent != 100 {
		return fmt.Errorf("last stage must be 100, got %d", s[len(s)-1].Percent)
	}
	return nil
}

// RegionPlan tracks the rollout of the candidate revision in one region
type RegionPlan struct {
	Ref               ServiceRef   `yaml:"ref" json:"ref"`
	CandidateRevision string       `yaml:"candidate_revision" json:"candidate_revision"`
	StableRevision    string       `yaml:"stable_revision" json:"stable_revision"`
	StageIndex        int          `yaml:"stage_index" json:"stage_index"`
	Status            RegionStatus `yaml:"status" json:"status"`

	// TrafficApplied is set once any candidate traffic has been applied in
	// this region. Regions that never left the gate have a dark candidate and
	// need no traffic change on rollback.
	TrafficApplied bool `yaml:"traffic_applied" json:"traffic_applied"`

	// URL is the endpoint probed for health in this region
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Shifted reports whether any candidate traffic was ever applied in this region
func (p *RegionPlan) Shifted() bool {
	return p.TrafficApplied
}

// TransactionSpec is the operator-facing description of a rollout
type TransactionSpec struct {
	Project string   `yaml:"project" json:"project"`
	Service string   `yaml:"service" json:"service"`
	Image   string   `yaml:"image" json:"image"`
	Regions []string `yaml:"regions" json:"regions"`

	Stages StageSequence `yaml:"stages" json:"stages"`

	// RollbackThreshold is the number of failed health samples within a single
	// dwell window that aborts the stage
	RollbackThreshold int `yaml:"rollback_threshold,omitempty" json:"rollback_threshold,omitempty"`

	// Retention is how many revisions to keep per region after promotion
	Retention int `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// Validate checks the spec for structural problems before execution
func (s *TransactionSpec) Validate() error {
	if s.Project == "" {
		return fmt.Errorf("project is required")
	}
	if s.Service == "" {
		return fmt.Errorf("service is required")
	}
	if s.Image == "" {
		return fmt.Errorf("image is required")
	}
	if len(s.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	seen := make(map[string]bool, len(s.Regions))
	for _, region := range s.Regions {
		if seen[region] {
			return fmt.Errorf("duplicate region: %s", region)
		}
		seen[region] = true
	}
	return s.Stages.Validate()
}

// DeploymentTransaction is the all-or-nothing unit of a multi-region rollout.
// Owned exclusively by the orchestrator and immutable once terminal.
type DeploymentTransaction struct {
	ID        string            `json:"id"`
	Spec      *TransactionSpec  `json:"spec"`
	Plans     []*RegionPlan     `json:"plans"`
	Status    TransactionStatus `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at,omitempty"`
}

// Terminal reports whether the transaction has reached a final state
func (t *DeploymentTransaction) Terminal() bool {
	return t.Status == TransactionSucceeded || t.Status == TransactionRolledBack
}

// HealthSample is a single probe outcome for a target.
// Samples are ephemeral; only the derived failure streak survives.
type HealthSample struct {
	Target    string
	Timestamp time.Time
	Healthy   bool
	Latency   time.Duration
	Message   string
}

// RollbackEvent is the append-only audit record of a rollback
type RollbackEvent struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Ref           ServiceRef     `json:"ref"`
	Reason        RollbackReason `json:"reason"`
	RevertedTo    string         `json:"reverted_to"`
	Timestamp     time.Time      `json:"timestamp"`

	// Error records a failed underlying traffic call; a rollback event is
	// emitted whether or not the target call succeeded
	Error string `json:"error,omitempty"`
}

// Revision describes one revision of a regional service
type Revision struct {
	Name           string
	CreatedAt      time.Time
	TrafficPercent int
	Tags           []string
}

// HasTag reports whether the revision carries the given label
func (r Revision) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Promotion records a completed label swap, keeping the prior stable revision
// as the emergency rollback target for the SLO watcher
type Promotion struct {
	Ref              ServiceRef `json:"ref"`
	TransactionID    string     `json:"transaction_id"`
	PromotedRevision string     `json:"promoted_revision"`
	PriorStable      string     `json:"prior_stable"`
	Timestamp        time.Time  `json:"timestamp"`
}
