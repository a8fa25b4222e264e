package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campus-board/community-auth-backend/internal/app"
	"github.com/campus-board/community-auth-backend/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "community-auth-backend",
		Short:        "Auth backend for the campus community board",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	var retentionDays int
	cleanup := &cobra.Command{
		Use:   "cleanup-sessions",
		Short: "Delete long-expired sessions from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(cmd.Context(), time.Duration(retentionDays)*24*time.Hour)
		},
	}
	cleanup.Flags().IntVar(&retentionDays, "retention-days", 30, "keep expired sessions this many days for audit")

	root.AddCommand(serve, cleanup)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func runCleanup(ctx context.Context, retention time.Duration) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	n, err := a.Tokens.CleanupExpired(ctx, retention)
	if err != nil {
		return err
	}
	a.Logger.Info("expired sessions deleted", "count", n)
	return nil
}
