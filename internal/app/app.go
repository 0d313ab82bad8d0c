// Package app builds every wharf component from a Config and runs the daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/client"
	"github.com/im7mortal/kmutex"
	"golang.org/x/sync/errgroup"

	"github.com/polarfoxDev/wharf/internal/api"
	"github.com/polarfoxDev/wharf/internal/archive"
	"github.com/polarfoxDev/wharf/internal/auth"
	"github.com/polarfoxDev/wharf/internal/backup"
	"github.com/polarfoxDev/wharf/internal/config"
	"github.com/polarfoxDev/wharf/internal/database"
	"github.com/polarfoxDev/wharf/internal/docker"
	"github.com/polarfoxDev/wharf/internal/executor"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/metrics"
	"github.com/polarfoxDev/wharf/internal/provision"
	"github.com/polarfoxDev/wharf/internal/scheduler"
	"github.com/polarfoxDev/wharf/internal/wpcli"
	"github.com/polarfoxDev/wharf/internal/wpsite"
)

// Options replaces runtime-facing components, mainly for tests. Nil fields
// are built from the Config.
type Options struct {
	Exec    executor.Executor
	Finder  provision.Finder
	Compose provision.Composer
	Runtime provision.Runtime
	Store   archive.Store
	Console io.Writer
}

type App struct {
	Config      *config.Config
	DB          *database.DB
	Log         *logging.Logger
	Exec        executor.Executor
	Provisioner *provision.Provisioner
	Site        *wpsite.Service
	Backups     *backup.Orchestrator
	Scheduler   *scheduler.Scheduler

	engine *client.Client // nil on kubernetes or when fully replaced by Options
}

// New opens the database and wires the orchestrators
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger, err := logging.New(db.GetDB(), opts.Console, cfg.LogLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Config: cfg, DB: db, Log: logger}
	if err := a.wire(ctx, opts); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config
	kube := cfg.Runtime.Executor == "kubernetes"

	var kubeBackend *executor.Kube
	if kube && (opts.Exec == nil || opts.Finder == nil) {
		var err error
		if kubeBackend, err = executor.NewKube(cfg.Runtime.Kubeconfig); err != nil {
			return err
		}
	}
	if !kube && (opts.Exec == nil || opts.Finder == nil || opts.Compose == nil || opts.Runtime == nil) {
		cli, err := docker.NewClient()
		if err != nil {
			return err
		}
		a.engine = cli
	}

	a.Exec = opts.Exec
	if a.Exec == nil {
		var remote executor.Backend
		if kube {
			remote = kubeBackend
		} else {
			remote = &executor.Docker{Client: a.engine}
		}
		a.Exec = executor.NewPool(&executor.Local{}, remote, cfg.Exec.Concurrency, cfg.Exec.Timeout.Duration)
	}

	finder, compose, runtime := opts.Finder, opts.Compose, opts.Runtime
	if kube {
		if finder == nil {
			finder = kubeBackend
		}
		// compose and runtime stay nil: instances are deployed by other tooling and adopted
	} else {
		engine := docker.NewEngine(a.engine)
		if finder == nil {
			finder = engine
		}
		if compose == nil {
			compose = &docker.Compose{Exec: a.Exec, Bin: cfg.Runtime.ComposeBin}
		}
		if runtime == nil {
			runtime = engine
		}
	}

	store := opts.Store
	if store == nil && cfg.ArchiveEnabled() {
		s3, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("init archive store: %w", err)
		}
		store = s3
	}

	cmds := &wpcli.Commands{
		WebRoot:   cfg.WordPress.WebRoot,
		BackupDir: cfg.WordPress.BackupDir,
		CLIURL:    cfg.WordPress.CLIURL,
	}
	resolver := executor.Resolver{Kubernetes: kube}
	locks := kmutex.New()

	a.Provisioner = provision.New(cfg, a.DB, a.Exec, finder, compose, runtime, a.Log)
	a.Provisioner.Locks = locks
	a.Site = &wpsite.Service{
		DB:       a.DB,
		Exec:     a.Exec,
		Commands: cmds,
		Resolver: resolver,
		Locks:    locks,
		Log:      a.Log,
	}
	a.Backups = &backup.Orchestrator{
		DB:       a.DB,
		Exec:     a.Exec,
		Store:    store,
		Site:     a.Site,
		Commands: cmds,
		Resolver: resolver,
		Locks:    locks,
		Log:      a.Log,

		StagingDir:     cfg.StagingDir,
		Retention:      cfg.Retention,
		DeleteOnRemove: cfg.Archive.DeleteOnRemove,
	}
	a.Scheduler = scheduler.New(cfg, a.DB, a.Backups, a.Log)
	return nil
}

// API builds the HTTP surface over the orchestrators
func (a *App) API() *api.Server {
	return &api.Server{
		Instances:   a.Provisioner,
		Site:        a.Site,
		Backups:     a.Backups,
		Schedules:   a.Scheduler,
		Logs:        a.Log,
		Auth:        auth.New(a.Config.API.Token),
		Log:         a.Log,
		CORSOrigins: a.Config.API.CORSOrigins,
	}
}

// Run starts the scheduler, the API and metrics servers and, on docker, the
// container event listener. It blocks until ctx is cancelled, then stops
// everything gracefully.
func (a *App) Run(ctx context.Context) error {
	metrics.RegisterDBMetrics(a.DB.GetDB())

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.Log.Info("scheduler started with %d recurrences", len(a.Scheduler.Armed()))

	if a.engine != nil {
		docker.NewEventListener(a.engine, func(name, token string) {
			a.Log.Warn("instance member %s (token %s) exited", name, token)
		}, a.Log.Debug).Start(ctx)
	}

	apiServer := api.NewHTTPServer(a.Config.API.Listen, a.API().Handler())
	metricsServer := metrics.NewServer(a.Config.Metrics.Listen)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, metricsServer} {
		g.Go(func() error {
			a.Log.Info("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.Join(
			apiServer.Shutdown(stopCtx),
			metricsServer.Shutdown(stopCtx),
			a.Scheduler.Stop(stopCtx),
		)
	})
	return g.Wait()
}

// Close releases the database and the docker client
func (a *App) Close() error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
