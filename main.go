package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/broscore/internal/config"
	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/repository"
	"github.com/example/broscore/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "broscore",
		Short:         "Finance-bro scoring API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to a .yaml, .json or .toml config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the leaderboard schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd.Context(), configPath, func(ctx context.Context, repo *repository.LeaderboardRepository, logger *zap.Logger) error {
				if err := repo.AutoMigrate(ctx); err != nil {
					return err
				}
				logger.Info("schema migrated")
				return nil
			})
		},
	}

	var limit int
	leaderboardCmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Print the top leaderboard entries",
		Example: "  broscore leaderboard --limit 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd.Context(), configPath, func(ctx context.Context, repo *repository.LeaderboardRepository, _ *zap.Logger) error {
				entries, err := repo.Top(ctx, usecase.ClampLeaderboardLimit(limit))
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RANK\tUSERNAME\tSCORE\tTIER\tSAVED")
				for i, e := range entries {
					fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", i+1, e.Username, e.TotalScore, e.Tier, e.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	leaderboardCmd.Flags().IntVar(&limit, "limit", usecase.DefaultLeaderboardLimit, "Number of entries to print")

	root.AddCommand(serveCmd, migrateCmd, leaderboardCmd)
	return root
}

// withRepository opens the configured database for one-shot commands.
func withRepository(ctx context.Context, configPath string, fn func(context.Context, *repository.LeaderboardRepository, *zap.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := openDatabase(openCtx, cfg.Database, cfg.Log.Development)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	return fn(ctx, repository.NewLeaderboardRepository(db, logger), logger)
}
