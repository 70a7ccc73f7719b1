package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/K4mp47/poetry-cms/internal/config"
)

var (
	cfgFile   string
	verbose   bool
	appConfig config.Config
	logger    = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "poetry-cms",
	Short: "Content service for a literary portfolio",
	Long: `poetry-cms serves stories, poems and quotes to the site front-end and
lets the author edit them. Content is kept in Firestore or in JSON files in a
GitHub repository, mirrored to a local cache, and falls back to the bundled
Markdown files when no remote store is reachable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return initializeConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func initializeConfig() error {
	// A .env file is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg, used, err := config.Read(cfgFile)
	if err != nil {
		return err
	}
	if used != "" {
		logger.Info("using config file", zap.String("path", used))
	} else {
		logger.Debug("no config file found, using defaults and environment")
	}
	appConfig = cfg
	return nil
}
