package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"gorelaybridge/checkpoint"
	"gorelaybridge/journal"
	"gorelaybridge/types"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "List operations sent out but never confirmed",
	Long: `Lists bridge operations left in executing or returning state, which happens when
the process stopped between broadcasting a transaction and seeing it confirmed.
Each line carries the destination handle so it can be checked on chain by hand.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("direction")
		dc := cfg.Direction(name)
		if dc == nil {
			return fmt.Errorf("direction %q not configured", name)
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		cp := checkpoint.New(store, dc.Name, types.Ordering(dc.Ordering))
		n, err := reconcile(cmd.Context(), cmd.OutOrStdout(), cp, store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d unconfirmed operation(s)\n", n)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().StringP("direction", "d", "", "Direction name")
	_ = reconcileCmd.MarkFlagRequired("direction")
}

// reconcile prints one line per unconfirmed operation and returns how many there were.
func reconcile(ctx context.Context, w io.Writer, cp *checkpoint.Checkpoint, j journal.Journal) (int, error) {
	count := 0
	for _, status := range []types.OperationStatus{types.OpExecuting, types.OpReturning} {
		ops, err := j.ListByStatus(ctx, cp.Direction(), status)
		if err != nil {
			return count, err
		}
		for _, op := range ops {
			handle := op.DestTxHash
			if status == types.OpExecuting && op.SourceTxHash != "" {
				if h, found, err := cp.Dispatched(ctx, op.SourceTxHash); err != nil {
					return count, err
				} else if found {
					handle = h
				}
			}
			if handle == "" {
				handle = "-"
			}
			fmt.Fprintf(w, "%s\t%s\tsource=%s\tdest=%s\t%s %s to %s\n",
				op.Status, op.ID, op.SourceTxHash, handle, op.Amount, op.Asset, op.DestAddress)
			count++
		}
	}
	return count, nil
}
