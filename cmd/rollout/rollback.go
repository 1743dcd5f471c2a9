package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/n2nstreams/rollout/pkg/target"
	"github.com/n2nstreams/rollout/pkg/types"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Manually roll a regional service back to its stable revision",
	Long: `Shift all traffic for a regional service back to its previous stable
revision. The stable revision is taken from the latest recorded promotion;
when no promotion is on record, it falls back to the revision carrying the
"stable" tag.`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().String("project", "", "GCP project (required)")
	rollbackCmd.Flags().String("region", "", "Region (required)")
	rollbackCmd.Flags().String("service", "", "Service name (required)")
	_ = rollbackCmd.MarkFlagRequired("project")
	_ = rollbackCmd.MarkFlagRequired("region")
	_ = rollbackCmd.MarkFlagRequired("service")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	project, _ := cmd.Flags().GetString("project")
	region, _ := cmd.Flags().GetString("region")
	service, _ := cmd.Flags().GetString("service")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := buildStack(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer s.close()

	ref := types.ServiceRef{Project: project, Region: region, Service: service}
	plan, err := resolveLivePlan(cmd, s, ref)
	if err != nil {
		return err
	}

	fmt.Printf("Rolling back %s: %s -> %s\n", ref, plan.CandidateRevision, plan.StableRevision)

	event, err := s.rollbacks.Rollback(ctx, "", plan, types.ReasonManual)
	if err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	fmt.Printf("✓ Rolled back, all traffic on %s (event %s)\n", event.RevertedTo, event.ID)
	return nil
}

// resolveLivePlan builds a region plan describing the service's current
// traffic state, preferring the audit store's latest promotion record
func resolveLivePlan(cmd *cobra.Command, s *stack, ref types.ServiceRef) (*types.RegionPlan, error) {
	plan := &types.RegionPlan{Ref: ref, Status: types.RegionShifting, TrafficApplied: true}

	if p, err := s.store.LatestPromotion(ref); err == nil && p != nil {
		plan.CandidateRevision = p.PromotedRevision
		plan.StableRevision = p.PriorStable
		return plan, nil
	}

	revisions, err := s.target.ListRevisions(cmd.Context(), ref)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions for %s: %w", ref, err)
	}
	for _, rev := range revisions {
		if rev.TrafficPercent > 0 && plan.CandidateRevision == "" {
			plan.CandidateRevision = rev.Name
		}
		if rev.HasTag(target.StableTag) && rev.Name != plan.CandidateRevision {
			plan.StableRevision = rev.Name
		}
	}
	if plan.CandidateRevision == "" || plan.StableRevision == "" {
		return nil, fmt.Errorf("cannot determine rollback target for %s", ref)
	}
	return plan, nil
}
