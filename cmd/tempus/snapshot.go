package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/engine"
)

var (
	snapshotUserID string
	snapshotAsOf   string
	snapshotJSON   bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Assemble and print a context snapshot for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotUserID == "" {
			return fmt.Errorf("--user is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		asOf := clock.System{}.Now()
		if snapshotAsOf != "" {
			asOf, err = time.Parse(time.RFC3339, snapshotAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of (want RFC 3339): %w", err)
			}
		}

		assembler := engine.NewAssembler(store, engine.AssemblerConfig{
			RelevanceFloor:        cfg.Context.RelevanceFloor,
			RelevanceHalfLifeDays: cfg.Context.RelevanceHalfLifeDays,
			PatternLookahead:      time.Duration(cfg.Context.PatternLookaheadDays) * 24 * time.Hour,
		})

		snap, err := assembler.BuildContext(context.Background(), snapshotUserID, asOf)
		if err != nil {
			return err
		}

		if snapshotJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		fmt.Print(engine.RenderSnapshot(snap))
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotUserID, "user", "", "user to assemble the snapshot for (required)")
	snapshotCmd.Flags().StringVar(&snapshotAsOf, "as-of", "", "snapshot instant (RFC 3339, default: now)")
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "emit the structured JSON snapshot instead of text")
	rootCmd.AddCommand(snapshotCmd)
}
