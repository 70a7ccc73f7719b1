package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/K4mp47/poetry-cms/internal/auth"
	"github.com/K4mp47/poetry-cms/internal/config"
	"github.com/K4mp47/poetry-cms/internal/content"
	"github.com/K4mp47/poetry-cms/internal/render"
	"github.com/K4mp47/poetry-cms/internal/server"
	"github.com/K4mp47/poetry-cms/internal/watch"
)

var serverPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the content API and the site front-end",
	Long: `The serve command loads content through the fallback chain (remote store,
local cache, bundled files, defaults), starts the HTTP API and static file
server, and reloads the bundled files when they change while no remote store
or cache is in use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, appConfig, logger)
	},
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	repo, closeCache, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	sessions, err := auth.NewSessions(cfg.Auth.SessionKey, cfg.Auth.SessionTTL, nil)
	if err != nil {
		return err
	}
	gate := auth.NewGate(auth.GateConfig{
		Secret:      cfg.Auth.Secret,
		MaxFailures: cfg.Auth.MaxFailures,
		Lockout:     cfg.Auth.Lockout,
	}, logger)
	if !gate.Enabled() {
		logger.Warn("no auth.secret configured, editing is disabled")
	}

	addr := cfg.Addr
	if serverPort != 0 {
		addr = fmt.Sprintf(":%d", serverPort)
	}
	srv := server.New(addr, server.Options{
		Repo:     repo,
		Gate:     gate,
		Sessions: sessions,
		Renderer: render.New(),
		SiteDir:  cfg.SiteDir,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving",
			zap.String("addr", addr),
			zap.String("mode", repo.Mode()),
			zap.String("source", string(repo.Source())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		w := &watch.Watcher{
			Root:     cfg.BundleDir,
			OnChange: reloadFromBundle(repo, logger),
			Logger:   logger,
		}
		if err := w.Run(gctx); err != nil {
			logger.Info("not watching bundle", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// reloadFromBundle refreshes the repository when its content came from the
// bundle or the defaults; a remote or cached copy is newer than the files.
func reloadFromBundle(repo *content.Repository, logger *zap.Logger) func(context.Context) {
	return func(ctx context.Context) {
		switch src := repo.Source(); src {
		case content.SourceBundle, content.SourceDefaults:
			if err := repo.Reload(ctx); err != nil {
				logger.Warn("reload failed", zap.Error(err))
			}
		default:
			logger.Debug("bundle changed, keeping current content", zap.String("source", string(src)))
		}
	}
}

func init() {
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "port to listen on (overrides addr)")
	rootCmd.AddCommand(serveCmd)
}
