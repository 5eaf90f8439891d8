package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/engine"
)

var detectUserID string

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run the recurrence detector once and print the detected patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		now := clock.System{}.Now()
		detector := engine.NewDetector(store)

		users := []string{detectUserID}
		if detectUserID == "" {
			users, err = store.ListUsers(ctx)
			if err != nil {
				return err
			}
		}

		for _, userID := range users {
			patterns, err := detector.Run(ctx, userID, now)
			if err != nil {
				return err
			}
			for _, p := range patterns {
				fmt.Printf("%s\t%s\t%s\tevery %.1f days\tconfidence %.2f\tnext %s\n",
					userID, p.SubjectID, p.Recurrence, p.IntervalDays, p.Confidence,
					p.NextPredicted.Format("2006-01-02"))
			}
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectUserID, "user", "", "detect for one user only (default: all users)")
	rootCmd.AddCommand(detectCmd)
}
