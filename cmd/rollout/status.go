package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/n2nstreams/rollout/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [TRANSACTION_ID]",
	Short: "Show a transaction's state",
	Long: `Show the state of a deployment transaction from the audit store.
With no argument, shows the most recent transaction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past transactions and rollback events",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Bool("rollbacks", false, "Show rollback events instead of transactions")
	historyCmd.Flags().Int("limit", 20, "Maximum entries to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.NewBoltStore(cfg.DataDir)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		tx, err := st.GetTransaction(args[0])
		if err != nil {
			return err
		}
		printSummary(tx)
		return nil
	}

	txs, err := st.ListTransactions()
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Println("No transactions recorded")
		return nil
	}
	printSummary(txs[0])
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	showRollbacks, _ := cmd.Flags().GetBool("rollbacks")
	limit, _ := cmd.Flags().GetInt("limit")

	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if showRollbacks {
		rbs, err := st.ListRollbackEvents()
		if err != nil {
			return err
		}
		if len(rbs) == 0 {
			fmt.Println("No rollback events recorded")
			return nil
		}
		// Newest first
		for i := len(rbs) - 1; i >= 0 && len(rbs)-1-i < limit; i-- {
			rb := rbs[i]
			fmt.Printf("%s  %-12s %-20s reverted to %s",
				rb.Timestamp.Format("2006-01-02 15:04:05"),
				rb.Reason, rb.Ref.Region, rb.RevertedTo)
			if rb.Error != "" {
				fmt.Printf("  FAILED: %s", rb.Error)
			}
			fmt.Println()
		}
		return nil
	}

	txs, err := st.ListTransactions()
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Println("No transactions recorded")
		return nil
	}
	for i, tx := range txs {
		if i >= limit {
			break
		}
		fmt.Printf("%s  %-12s %-24s %s  %d regions\n",
			tx.StartedAt.Format("2006-01-02 15:04:05"),
			tx.Status, tx.Spec.Service, tx.Spec.Image, len(tx.Plans))
	}
	return nil
}
