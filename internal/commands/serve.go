package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/app"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/server"
)

// NewServeCmd returns the long-running server command: HTTP API plus the
// background sweeper, shut down together on SIGINT/SIGTERM.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion server and background sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("listen")
			if addr == "" {
				addr = app.ListenAddr()
			}

			return withDB(func(db *DB) error {
				eng := engine.New(db)
				sweeper := engine.NewSweeper(eng, app.EffectiveSweepSettings())

				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				go sweeper.Run(ctx)

				return server.New(eng, sweeper).Run(ctx, addr)
			})
		},
	}

	cmd.Flags().String("listen", "", "Listen address (default from config, then 127.0.0.1:4180)")
	return cmd
}
