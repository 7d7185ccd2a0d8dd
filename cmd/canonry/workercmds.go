package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chris-arsenault/the-canonry-sub014/internal/config"
	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/executor"
	"github.com/chris-arsenault/the-canonry-sub014/internal/notify"
	"github.com/chris-arsenault/the-canonry-sub014/internal/revision"
	"github.com/chris-arsenault/the-canonry-sub014/internal/runstore"
	"github.com/chris-arsenault/the-canonry-sub014/internal/schedule"
	"github.com/chris-arsenault/the-canonry-sub014/internal/workerbridge"
)

var (
	historyLimit  int
	workerID      string
	workerURL     string
	workerMaxJobs int
)

func init() {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect task execution",
	}
	rootCmd.AddCommand(queueCmd)

	queueStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize task execution state",
		RunE:  runQueueStatus,
	}
	queueCmd.AddCommand(queueStatusCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished tasks",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "number of tasks to show")
	queueCmd.AddCommand(historyCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run an enrichment worker connected to the bridge",
		RunE:  runWorker,
	}
	workerCmd.Flags().StringVar(&workerID, "id", "", "worker id (defaults to hostname)")
	workerCmd.Flags().StringVar(&workerURL, "url", "", "coordinator websocket URL")
	workerCmd.Flags().IntVar(&workerMaxJobs, "max-jobs", 0, "concurrent jobs (0 = configured default)")
	rootCmd.AddCommand(workerCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the scheduled sweep daemon",
		RunE:  runSweep,
	}
	rootCmd.AddCommand(sweepCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	generating := 0
	for _, r := range runs {
		if r.Status == domain.RunGenerating {
			generating++
		}
	}

	tasks, err := store.ListArchivedTasks(ctx, historyLimit)
	if err != nil {
		return err
	}
	var succeeded, errored int
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskSucceeded:
			succeeded++
		case domain.TaskErrored:
			errored++
		}
	}

	fmt.Printf("Runs: %d total | %d generating\n", len(runs), generating)
	fmt.Printf("Recent tasks: %d succeeded | %d errored (last %d)\n",
		succeeded, errored, len(tasks))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.ListArchivedTasks(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No finished tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tENTITY\tKIND\tSTATUS\tFINISHED")
	for _, t := range tasks {
		finished := "-"
		if t.FinishedAt != nil {
			finished = humanize.Time(*t.FinishedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.TaskID, t.EntityID, t.Kind, t.Status, finished)
	}
	return w.Flush()
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	id := workerID
	if id == "" {
		id, _ = os.Hostname()
	}
	url := workerURL
	if url == "" {
		url = cfg.Bridge.WorkerURL
	}
	maxJobs := workerMaxJobs
	if maxJobs <= 0 {
		maxJobs = cfg.Bridge.MaxJobs
	}

	exec := executor.NewCommandExecutor(cfg.Executor.Command, cfg.Executor.Args...)
	worker, err := workerbridge.NewWorker(workerbridge.WorkerConfig{
		ServerURL: url,
		WorkerID:  id,
		MaxJobs:   maxJobs,
	}, exec)
	if err != nil {
		return err
	}

	fmt.Printf("Worker %s connecting to %s (%d slots)\n", id, url, maxJobs)
	return worker.Run()
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sweeps, err := schedule.LoadSweepsConfig(cfg.General.SweepsPath)
	if err != nil {
		return err
	}
	if len(sweeps.Sweeps) == 0 {
		return fmt.Errorf("no sweeps configured in %s", cfg.General.SweepsPath)
	}
	for i := range sweeps.Sweeps {
		if err := sweeps.Sweeps[i].Validate(); err != nil {
			return fmt.Errorf("sweep %q: %w", sweeps.Sweeps[i].Name, err)
		}
	}

	sched, err := schedule.NewScheduler(sweeps.Sweeps)
	if err != nil {
		return err
	}

	fmt.Printf("Sweep daemon watching %d sweeps\n", len(sweeps.Sweeps))
	for _, name := range sched.ListSweeps() {
		fmt.Printf("  %s: next run %s\n", name, humanize.Time(sched.NextRun(name)))
	}

	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	sched.Start(func(sc schedule.SweepConfig) error {
		return executeSweep(ctx, cfg, sc)
	})
	return nil
}

// executeSweep runs one unattended sweep: start a run over the library,
// auto-continue through every batch, and apply with all patches
// accepted by default.
func executeSweep(ctx context.Context, cfg *config.Config, sc schedule.SweepConfig) error {
	a, err := newApp(ctx, appOptions{kind: sc.Workflow})
	if err != nil {
		return err
	}
	defer a.close()

	entities, err := a.lib.LoadAll()
	if err != nil {
		return err
	}
	entities = filterEntities(entities, nil, sc.MaxEntities)
	if len(entities) == 0 {
		return nil
	}

	if err := a.orch.StartRun(ctx, revision.StartConfig{
		ProjectID: cfg.General.ProjectID,
		Entities:  entities,
		BatchSize: cfg.Revision.BatchSize,
	}); err != nil {
		return err
	}
	if sc.AutoContinue {
		if err := a.orch.AutoContinueAll(ctx); err != nil {
			return err
		}
	}

	run, err := a.serveAndWait(ctx)
	if err != nil {
		return err
	}
	if run.Status == domain.RunBatchReviewing {
		// Sweep configured without auto_continue: leave the run parked
		// for manual review.
		if sc.Notify {
			a.notifier.Send(notify.Notification{
				Title:   "Sweep paused for review",
				Message: fmt.Sprintf("%s has a batch waiting in run %s", sc.Name, run.RunID),
				Type:    notify.NotifyInfo,
				RunID:   run.RunID,
			})
		}
		return nil
	}
	if run.Status != domain.RunReviewing {
		return fmt.Errorf("sweep %s stopped in %s: %s", sc.Name, run.Status, run.Error)
	}

	patches, err := a.orch.ApplyAccepted(ctx)
	if err != nil {
		return err
	}

	if sc.Notify {
		a.notifier.Send(notify.Notification{
			Title:   "Sweep complete",
			Message: fmt.Sprintf("%s applied %d patches to %d entities", sc.Name, len(patches), len(entities)),
			Type:    notify.NotifySuccess,
			RunID:   run.RunID,
		})
	}
	return nil
}
