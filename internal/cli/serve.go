package cli

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

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/api"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Long: `Start the API server over the configured database.

The server exposes /api/v1 for artifacts, edges and audit, /ws/rooms/{id}
for collaborative documents, /healthz and /metrics. SIGINT or SIGTERM
drains connections, closes every room with a final snapshot and exits.

Example:
  provd serve --config provd.cue
  provd serve --db ./researchflow.db --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Ledger.VerifyOnStart {
		if err := verifyOnStart(ctx, a); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Deps{
			Store:     a.store,
			Ledger:    a.ledger,
			Artifacts: a.artifacts,
			Graph:     a.graph,
			Collab:    a.collab,
			Presence:  a.tracker,
		},
			api.WithLogger(a.logger),
			api.WithWebSocketRate(cfg.Server.WSRate, cfg.Server.WSBurst),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.tracker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("presence sweeper: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
		return a.collab.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	a.logger.Info("server stopped gracefully")
	return nil
}

// verifyOnStart refuses to serve over a tampered audit trail.
func verifyOnStart(ctx context.Context, a *app) error {
	reports, err := a.ledger.VerifyAll(ctx)
	if errs.IsTamper(err) {
		a.logger.Error("audit chain verification failed at startup", zap.Error(err))
		return WrapExitError(ExitFailure, "audit chain verification failed", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "audit chain verification", err)
	}
	a.logger.Info("audit chains verified", zap.Int("scopes", len(reports)))
	return nil
}
