package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"gorelaybridge/checkpoint"
	"gorelaybridge/types"
)

var watermarkCmd = &cobra.Command{
	Use:   "watermark",
	Short: "Print the stored watermark of a direction",
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
		return printWatermark(cmd.Context(), cmd.OutOrStdout(), cp)
	},
}

func init() {
	watermarkCmd.Flags().StringP("direction", "d", "", "Direction name")
	_ = watermarkCmd.MarkFlagRequired("direction")
}

func printWatermark(ctx context.Context, w io.Writer, cp *checkpoint.Checkpoint) error {
	wm, found, err := cp.Watermark(ctx)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(w, "%s: no watermark stored\n", cp.Direction())
		return nil
	}
	fmt.Fprintf(w, "%s: %s (%s)\n", cp.Direction(), cp.Format(wm), cp.Ordering())
	return nil
}
