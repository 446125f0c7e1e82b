package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"caravel/internal/artifact"
	"caravel/internal/build"
	"caravel/internal/cluster"
	"caravel/internal/config"
	"caravel/internal/events"
	"caravel/internal/health"
	"caravel/internal/manifest"
	"caravel/internal/reconciler"
	"caravel/internal/release"
	"caravel/internal/server"
	"caravel/pkg/logging"
)

// Options carries the command-line level settings of the daemon.
type Options struct {
	// ConfigPath overrides the default config file location. Empty uses
	// the default path; a missing file falls back to built-in defaults.
	ConfigPath string

	// Debug lowers the log filter to debug level.
	Debug bool

	// Silent discards all log output. Used by tests and scripted runs.
	Silent bool
}

// Application wires the manifest store, build pipeline, reconciler, health
// verifier, release coordinator and HTTP server into one runnable daemon.
type Application struct {
	cfg config.Config

	store       *manifest.FileStore
	registry    *artifact.MemRegistry
	buildCoord  *build.Coordinator
	cluster     cluster.Client
	reconciler  *reconciler.Reconciler
	verifier    *health.Verifier
	recorder    *events.Recorder
	coordinator *release.Coordinator
	server      *server.Server
}

// New bootstraps the application: logging first, then configuration, then
// every component in dependency order. Nothing is started yet; Run does that.
func New(opts Options) (*Application, error) {
	level := logging.LevelInfo
	if opts.Debug {
		level = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stdout
	if opts.Silent {
		logOutput = io.Discard
	}
	logging.Init(level, logOutput)

	path := opts.ConfigPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", path)
		return nil, fmt.Errorf("loading configuration from %s: %w", path, err)
	}

	store, err := manifest.NewFileStore(cfg.Store.Path, cfg.Store.Debounce.Std())
	if err != nil {
		return nil, fmt.Errorf("opening manifest store at %s: %w", cfg.Store.Path, err)
	}

	clusterClient, err := newClusterClient(cfg.Cluster)
	if err != nil {
		return nil, err
	}

	registry := artifact.NewMemRegistry()
	buildCoord := build.NewCoordinator(registry, build.NewStubBuilder(), build.NoopScanner{}, cfg.Build)

	rec := reconciler.New(store, clusterClient, cfg.Reconcile)
	verifier := health.NewVerifier(clusterClient, cfg.Health)
	recorder := events.NewRecorder(0)

	coordinator := release.NewCoordinator(store, manifest.NewUpdater(store), buildCoord, rec, verifier, recorder, cfg.Release)

	srv := server.New(cfg.Server.Address(), coordinator, rec, store, recorder)

	return &Application{
		cfg:         cfg,
		store:       store,
		registry:    registry,
		buildCoord:  buildCoord,
		cluster:     clusterClient,
		reconciler:  rec,
		verifier:    verifier,
		recorder:    recorder,
		coordinator: coordinator,
		server:      srv,
	}, nil
}

// newClusterClient picks the cluster client per the configured mode. Auto
// prefers a real cluster and falls back to the in-memory one.
func newClusterClient(cfg config.ClusterConfig) (cluster.Client, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = config.ClusterModeAuto
	}

	switch mode {
	case config.ClusterModeFake:
		logging.Info("Bootstrap", "Using in-memory cluster client")
		return cluster.NewFakeCluster(), nil

	case config.ClusterModeKubernetes:
		restConfig, err := cluster.GetRestConfig()
		if err != nil {
			return nil, fmt.Errorf("cluster mode is kubernetes but no rest config is reachable: %w", err)
		}
		return cluster.NewKubeCluster(restConfig, cfg.Namespace)

	case config.ClusterModeAuto:
		if cluster.IsKubernetesAvailable() {
			restConfig, err := cluster.GetRestConfig()
			if err == nil {
				logging.Info("Bootstrap", "Using kubernetes cluster client")
				return cluster.NewKubeCluster(restConfig, cfg.Namespace)
			}
			logging.Warn("Bootstrap", "Kubernetes detection succeeded but rest config failed, falling back to in-memory cluster: %v", err)
		}
		logging.Info("Bootstrap", "No kubernetes cluster reachable, using in-memory cluster client")
		return cluster.NewFakeCluster(), nil

	default:
		return nil, fmt.Errorf("unknown cluster mode %q", mode)
	}
}

// Run starts every component and blocks until the context is cancelled or a
// component fails. Shutdown is in reverse start order so in-flight releases
// observe their collaborators until the end.
func (a *Application) Run(ctx context.Context) error {
	if err := a.reconciler.Start(ctx); err != nil {
		return fmt.Errorf("starting reconciler: %w", err)
	}
	if err := a.coordinator.Start(ctx); err != nil {
		_ = a.reconciler.Stop()
		return fmt.Errorf("starting release coordinator: %w", err)
	}
	if err := a.server.Start(); err != nil {
		_ = a.coordinator.Stop()
		_ = a.reconciler.Stop()
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.bridgeSyncEvents(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logging.Info("App", "caravel is running on %s", a.cfg.Server.Address())
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		logging.Error("App", serr, "HTTP server shutdown failed")
	}
	if serr := a.coordinator.Stop(); serr != nil {
		logging.Error("App", serr, "Release coordinator stop failed")
	}
	if serr := a.reconciler.Stop(); serr != nil {
		logging.Error("App", serr, "Reconciler stop failed")
	}

	logging.Info("App", "caravel stopped")
	return err
}

// bridgeSyncEvents mirrors terminal reconciler passes into the event ring.
// The release coordinator records SyncStarted itself; outcomes arrive here so
// that poll- and watch-triggered passes show up in the event log too.
func (a *Application) bridgeSyncEvents(ctx context.Context) {
	ch := a.reconciler.Subscribe()
	defer a.reconciler.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case op, ok := <-ch:
			if !ok {
				return
			}
			switch {
			case op.Outcome == reconciler.OutcomeConverged:
				a.recorder.RecordRelease(events.ReasonSyncConverged, op.Unit, "", "", op.RevisionSeq,
					"sync converged at revision %d, applied %d resources", op.RevisionSeq, len(op.Applied))
			case op.Stuck:
				a.recorder.RecordRelease(events.ReasonSyncStuck, op.Unit, "", "", op.RevisionSeq,
					"sync stuck after %d attempts: %s", op.Attempt, op.Error)
			default:
				a.recorder.RecordRelease(events.ReasonSyncFailed, op.Unit, "", "", op.RevisionSeq,
					"sync attempt %d failed: %s", op.Attempt, op.Error)
			}
		}
	}
}

// Coordinator exposes the release coordinator. Used by tests.
func (a *Application) Coordinator() *release.Coordinator {
	return a.coordinator
}

// Recorder exposes the event recorder. Used by tests.
func (a *Application) Recorder() *events.Recorder {
	return a.recorder
}
