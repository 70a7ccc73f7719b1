package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/bundle"
	"github.com/K4mp47/poetry-cms/internal/config"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Writes the current content out as a static bundle",
	Long: `The export command loads content through the fallback chain and writes it
to the output directory in the bundle format: settings.yaml, meta.yaml and one
Markdown file per item under stories/, poetry/ and quotes/. The output
directory is cleaned first. Point bundleDir at an export to ship it with the
site.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), appConfig, exportDir, logger)
	},
}

func runExport(ctx context.Context, cfg config.Config, outputDir string, logger *zap.Logger) error {
	if err := checkExportTarget(cfg, outputDir); err != nil {
		return err
	}

	repo, closeCache, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	logger.Info("cleaning output directory", zap.String("dir", outputDir))
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("failed to remove output directory '%s': %w", outputDir, err)
	}

	snap := repo.Snapshot()
	if err := bundle.Write(outputDir, snap); err != nil {
		return err
	}
	logger.Info("export complete",
		zap.String("dir", outputDir),
		zap.String("source", string(repo.Source())),
		zap.Int("items", len(snap.Items)))
	return nil
}

// checkExportTarget refuses to clean the live bundle or the working
// directory.
func checkExportTarget(cfg config.Config, outputDir string) error {
	if outputDir == "" {
		return fmt.Errorf("an output directory is required")
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	if out == cwd || out == filepath.Dir(out) {
		return fmt.Errorf("refusing to clean %s", out)
	}
	if bundleDir, err := filepath.Abs(cfg.BundleDir); err == nil && bundleDir == out {
		return fmt.Errorf("output directory %s is the live bundle directory", out)
	}
	return nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "export", "directory to write the bundle to")
	rootCmd.AddCommand(exportCmd)
}
