package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/codesearch-harvester/internal/app"
	"github.com/JakeFAU/codesearch-harvester/internal/config"
	"github.com/JakeFAU/codesearch-harvester/internal/id/uuid"
	"github.com/JakeFAU/codesearch-harvester/internal/logging"
)

// newRootCmd creates the single harvester command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests source files from GitHub code search into a deduplicated store.",
		Long: `harvester pages through GitHub code search one file-size partition at a
time, downloads every matching file, and stores each distinct blob once.
Progress is checkpointed after every page so an interrupted run resumes
where it stopped.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgFile)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (HARVEST_* env vars override it)")
	return cmd
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, os.ErrInvalid) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("run_id", runID))
	zap.ReplaceGlobals(logger)

	harvester, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application services", zap.Error(err))
		return err
	}
	defer func() {
		if cerr := harvester.Close(); cerr != nil {
			logger.Warn("close failed", zap.Error(cerr))
		}
	}()

	sum, err := harvester.Run(ctx)
	fields := []zap.Field{
		zap.Int("partitions", sum.Partitions),
		zap.Int("pages", sum.Pages),
		zap.Int("stored", sum.Stored),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("not_files", sum.NotFiles),
		zap.Int("item_errors", sum.Failures),
		zap.Int("failed_partitions", sum.PageFailures),
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("harvest interrupted; rerun to resume from the checkpoint", fields...)
		return nil
	}
	if err != nil {
		logger.Error("harvest failed", zap.Error(err))
		return err
	}
	logger.Info("harvest finished", fields...)
	return nil
}
