package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/go-lullaby/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the lullaby HTTP server",
		Long: "Run the lullaby HTTP server.\n\n" +
			"The mixed narration and ambient output is streamed as WAV on GET /stream " +
			"and, with --server-speaker, played on the local audio device.",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			srv := server.New(cfg, nil).
				WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeout) * time.Second)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}
}
