package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tempusgraph/tempus/internal/clock"
)

var expireUserID string

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Run the stale-item expiry sweep once",
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

		users := []string{expireUserID}
		if expireUserID == "" {
			users, err = store.ListUsers(ctx)
			if err != nil {
				return err
			}
		}

		total := 0
		for _, userID := range users {
			count, err := store.ExpireStale(ctx, userID, cfg.Items.StaleTTL, now)
			if err != nil {
				return err
			}
			if count > 0 {
				fmt.Printf("%s: expired %d items\n", userID, count)
			}
			total += count
		}
		fmt.Printf("expired %d items total\n", total)
		return nil
	},
}

func init() {
	expireCmd.Flags().StringVar(&expireUserID, "user", "", "expire for one user only (default: all users)")
	rootCmd.AddCommand(expireCmd)
}
