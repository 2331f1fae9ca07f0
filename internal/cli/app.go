package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/artifact"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/collab"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/graph"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/logging"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// operatorActor is the audit actor for maintenance commands.
const operatorActor = "provd"

// app is the wired component graph shared by every command.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *store.Store
	ledger    *ledger.Ledger
	guard     *governance.Guard
	artifacts *artifact.Service
	graph     *graph.Engine
	tracker   *presence.Tracker
	collab    *collab.Engine
}

// loadConfig reads the config file, if any, and applies global overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.Config != "" {
		cfg, err = config.Load(o.Config)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Store.Path = o.Database
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openApp loads configuration and wires the components over one store.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", zap.String("path", cfg.Store.Path))

	l := ledger.New(st, ledger.WithLogger(logger))
	guard := governance.NewGuard(newGate(cfg.Governance, logger), cfg.Governance.Restricted, logger)
	tracker := presence.NewTracker(presence.Config{
		HeartbeatTimeout: cfg.Presence.HeartbeatTimeout.Std(),
		RoomIdleTimeout:  cfg.Presence.RoomIdleTimeout.Std(),
		SweepInterval:    cfg.Presence.SweepInterval.Std(),
	}, presence.WithLogger(logger))

	collabOpts := []collab.Option{
		collab.WithPresence(tracker),
		collab.WithLogger(logger),
	}
	if cfg.Scanner.URL != "" {
		scanner := governance.NewHTTPScanner(cfg.Scanner.URL, cfg.Scanner.Timeout.Std(),
			governance.DefaultBreakerConfig("scanner"), logger)
		collabOpts = append(collabOpts, collab.WithScanner(scanner))
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		ledger:    l,
		guard:     guard,
		artifacts: artifact.NewService(l, guard, artifact.WithLogger(logger)),
		graph:     graph.NewEngine(l, guard, graph.WithMaxDepth(cfg.Graph.MaxDepth), graph.WithLogger(logger)),
		tracker:   tracker,
		collab: collab.NewEngine(l, guard, collab.Config{
			SnapshotEvery: cfg.Collab.SnapshotEvery,
			DrainTimeout:  cfg.Collab.DrainTimeout.Std(),
			LoadTimeout:   cfg.Collab.LoadTimeout.Std(),
			ScanDebounce:  cfg.Collab.ScanDebounce.Std(),
			Retention:     cfg.Collab.Retention,
			SendBuffer:    cfg.Collab.SendBuffer,
		}, collabOpts...),
	}, nil
}

// newGate selects the hosted governance service when configured, and a
// fixed-mode gate otherwise.
func newGate(cfg config.Governance, logger *zap.Logger) governance.Gate {
	if cfg.GateURL != "" {
		return governance.NewHTTPGate(cfg.GateURL, cfg.Timeout.Std(),
			governance.DefaultBreakerConfig("governance"), logger)
	}
	return governance.NewStaticGate(governance.Mode(cfg.Mode), cfg.BlockOnEscalate)
}

// close flushes open rooms and releases the store.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Std()+5*time.Second)
	defer cancel()
	if err := a.collab.Shutdown(ctx); err != nil {
		a.logger.Warn("document engine shutdown", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
