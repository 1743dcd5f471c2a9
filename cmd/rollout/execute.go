package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/n2nstreams/rollout/pkg/config"
	"github.com/n2nstreams/rollout/pkg/events"
	"github.com/n2nstreams/rollout/pkg/types"
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a rollout transaction from a spec file",
	Long: `Execute a staged multi-region rollout described by a YAML spec file.

The command runs the transaction to completion: dark deploys, initial health
gates, the staged traffic progression in each region, and promotion or
rollback. Ctrl+C aborts the transaction and rolls back every region that
received candidate traffic.

Examples:
  # Run a rollout
  rollout execute -f rollout.yaml

  # Rehearse against an in-memory target
  rollout execute -f rollout.yaml --dry-run`,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringP("file", "f", "", "Rollout spec file (required)")
	executeCmd.Flags().Bool("dry-run", false, "Run against an in-memory target without touching Cloud Run")
	_ = executeCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	spec, err := config.LoadTransactionSpec(file)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := buildStack(ctx, cfg, spec, dryRun)
	if err != nil {
		return err
	}
	defer s.close()

	// Ctrl+C aborts the transaction; the orchestrator treats cancellation
	// as a manual rollback
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nAborting, rolling back...")
		cancel()
	}()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)
	go printProgress(sub)

	if dryRun {
		fmt.Println("Dry run: using in-memory target, no traffic will move")
	}
	fmt.Printf("Rolling out %s to %s (%d regions)\n\n", spec.Image, spec.Service, len(spec.Regions))

	tx, err := s.orch.Execute(ctx, spec)
	if err != nil {
		if tx != nil {
			printSummary(tx)
		}
		return err
	}

	printSummary(tx)
	return nil
}

func printProgress(sub events.Subscriber) {
	for event := range sub {
		switch event.Type {
		case events.EventRegionDeployed, events.EventRegionGatePassed,
			events.EventStageCompleted, events.EventRegionPromoted:
			fmt.Printf("✓ [%s] %s\n", event.Region, event.Message)
		case events.EventStageShifting:
			fmt.Printf("  [%s] %s\n", event.Region, event.Message)
		case events.EventRegionGateFailed, events.EventStageAborted,
			events.EventRollbackExecuted, events.EventRollbackFailed:
			fmt.Printf("✗ [%s] %s\n", event.Region, event.Message)
		}
	}
}

func printSummary(tx *types.DeploymentTransaction) {
	fmt.Println()
	fmt.Printf("Transaction: %s\n", tx.ID)
	fmt.Printf("Status:      %s\n", tx.Status)
	for _, plan := range tx.Plans {
		fmt.Printf("  %-20s %-12s candidate=%s stable=%s\n",
			plan.Ref.Region, plan.Status, plan.CandidateRevision, plan.StableRevision)
	}
}
