package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris-arsenault/the-canonry-sub014/internal/config"
	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/event"
	"github.com/chris-arsenault/the-canonry-sub014/internal/executor"
	"github.com/chris-arsenault/the-canonry-sub014/internal/library"
	"github.com/chris-arsenault/the-canonry-sub014/internal/notify"
	"github.com/chris-arsenault/the-canonry-sub014/internal/queue"
	"github.com/chris-arsenault/the-canonry-sub014/internal/revision"
	"github.com/chris-arsenault/the-canonry-sub014/internal/runstore"
	"github.com/chris-arsenault/the-canonry-sub014/internal/workerbridge"
	workflowpkg "github.com/chris-arsenault/the-canonry-sub014/internal/workflow"
)

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// app wires the store, library, queue, and orchestrator for one CLI
// invocation. Executor results flow back into the run store through the
// queue's result callback, which is also where terminal tasks are
// archived.
type app struct {
	cfg      *config.Config
	store    *runstore.Store
	lib      *library.Library
	bus      *event.Bus
	queue    *queue.TaskQueue
	coord    *workerbridge.Coordinator
	orch     *revision.Orchestrator
	notifier notify.Notifier
}

type appOptions struct {
	kind      domain.WorkflowKind
	persona   string
	documents []string
	// remote dispatches tasks over the worker bridge instead of
	// spawning the executor subprocess locally
	remote bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.General.LibraryDir == "" {
		return nil, fmt.Errorf("library_dir not configured")
	}
	lib, err := library.Open(cfg.General.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	bus := event.NewBus()

	var exec executor.Executor
	var coord *workerbridge.Coordinator
	if opts.remote {
		coord = workerbridge.NewCoordinator(workerbridge.CoordinatorConfig{
			ListenAddr: cfg.Bridge.ListenAddr,
		})
		exec = coord
	} else {
		exec = executor.NewCommandExecutor(cfg.Executor.Command, cfg.Executor.Args...)
	}

	q := queue.New(ctx, exec, queue.Options{
		ConcurrencyCap: cfg.Queue.ConcurrencyCap,
		Bus:            bus,
		OnResult: func(task *domain.Task, result *domain.TaskResult) {
			if err := revision.ApplyResult(ctx, store, task, result); err != nil {
				fmt.Printf("record result for task %s: %v\n", task.ID, err)
			}
			if err := store.ArchiveTask(ctx, task); err != nil {
				fmt.Printf("archive task %s: %v\n", task.ID, err)
			}
		},
	})

	wf, err := buildWorkflow(lib, opts)
	if err != nil {
		store.Close()
		return nil, err
	}

	orch := revision.New(ctx, store, q, wf, revision.Options{
		PollInterval: cfg.Revision.PollInterval(),
		Bus:          bus,
	})

	notifiers := []notify.Notifier{notify.NewDesktopNotifier(cfg.Notifications.Desktop)}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	notifier := notify.NewMultiNotifier(notifiers...)
	notify.Subscribe(bus, notifier)

	return &app{
		cfg:      cfg,
		store:    store,
		lib:      lib,
		bus:      bus,
		queue:    q,
		coord:    coord,
		orch:     orch,
		notifier: notifier,
	}, nil
}

// newAppForRun builds an app whose workflow matches the persisted run's
// kind and attaches the orchestrator to it.
func newAppForRun(ctx context.Context, runID string, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	run, err := resolveRun(ctx, store, runID)
	if err != nil {
		store.Close()
		return nil, err
	}
	store.Close()

	opts.kind = run.Kind
	a, err := newApp(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := a.orch.Attach(ctx, run.RunID); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// resolveRun loads a run by id, or the sole persisted run when id is
// empty.
func resolveRun(ctx context.Context, store *runstore.Store, runID string) (*domain.RevisionRun, error) {
	if runID != "" {
		return store.GetRun(ctx, runID)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, errors.New("no revision runs found")
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("%d runs found; pass --run to pick one", len(runs))
	}
}

func buildWorkflow(lib *library.Library, opts appOptions) (revision.Workflow, error) {
	switch opts.kind {
	case domain.KindRewrite, "":
		return workflowpkg.NewRewrite(lib), nil
	case domain.KindLoreBackport:
		return workflowpkg.NewLoreBackport(lib, opts.documents), nil
	case domain.KindPersonaEdition:
		if opts.persona == "" {
			return nil, errors.New("persona edition requires --persona")
		}
		return workflowpkg.NewPersonaEdition(lib, opts.persona), nil
	case domain.KindPersonaReview:
		if opts.persona == "" {
			return nil, errors.New("persona review requires --persona")
		}
		return workflowpkg.NewPersonaReview(lib, opts.persona), nil
	default:
		return nil, fmt.Errorf("unknown workflow kind %q", opts.kind)
	}
}

func (a *app) close() {
	if a.coord != nil {
		a.coord.Shutdown(context.Background())
	}
	a.store.Close()
}

// serveAndWait blocks until the active run leaves the generating state:
// a batch becomes ready for review, the whole run reaches run_reviewing,
// or the run fails. With the bridge enabled it also serves worker
// connections for the duration.
func (a *app) serveAndWait(ctx context.Context) (*domain.RevisionRun, error) {
	if a.coord != nil {
		go func() {
			if err := a.coord.Start(); err != nil {
				fmt.Printf("worker bridge: %v\n", err)
			}
		}()
		fmt.Printf("Worker bridge listening on %s\n", a.cfg.Bridge.ListenAddr)
	}

	// Track outside edits to the library while the run is in flight so
	// stale context gets reloaded before the next batch dispatch.
	if watcher, err := library.NewWatcher(a.lib, a.bus); err == nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	changed := make(chan struct{}, 4)
	subID := a.bus.Subscribe(event.TypeRunStatus, func(e event.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer a.bus.Unsubscribe(subID)

	// The run may have left generating before the subscription was in
	// place; force one status check before waiting on events.
	changed <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
			run, err := a.orch.Run(ctx)
			if errors.Is(err, revision.ErrNoActiveRun) || errors.Is(err, runstore.ErrRunNotFound) {
				return nil, errors.New("run record was removed")
			}
			if err != nil {
				return nil, err
			}
			switch run.Status {
			case domain.RunBatchReviewing:
				// Auto-continue advances past this state on its own.
				if !run.AutoContinue {
					return run, nil
				}
			case domain.RunReviewing, domain.RunFailed:
				return run, nil
			}
		}
	}
}
