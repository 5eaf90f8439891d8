package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tempusgraph/tempus/internal/clock"
	"github.com/tempusgraph/tempus/internal/engine"
	"github.com/tempusgraph/tempus/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Tempus HTTP service with background sweeps",
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

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		clk := clock.System{}

		addr, hub, err := server.Start(ctx, cfg, store, clk)
		if err != nil {
			return err
		}
		log.Printf("tempus listening on %s (storage: %s)", addr, cfg.Storage.Engine)

		sweeper := engine.NewSweeper(store, clk,
			cfg.Detector.SweepInterval, cfg.Items.ExpireInterval, cfg.Items.StaleTTL)
		sweeper.Hub = hub
		go sweeper.Run(ctx)

		<-ctx.Done()
		log.Println("tempus shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
