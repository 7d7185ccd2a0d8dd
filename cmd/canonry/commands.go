package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
	"github.com/chris-arsenault/the-canonry-sub014/internal/revision"
	"github.com/chris-arsenault/the-canonry-sub014/internal/runstore"
)

var (
	startWorkflow    string
	startPersona     string
	startDocuments   []string
	startCultures    []string
	startLimit       int
	startBatchSize   int
	startAuto        bool
	startRemote      bool
	startContextFile string
	startProject     string
	startSimRun      string

	runID      string
	runPersona string
	runDocs    []string
	runRemote  bool
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Manage revision runs",
	}
	rootCmd.AddCommand(runCmd)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a revision run over the library",
		RunE:  runStart,
	}
	startCmd.Flags().StringVar(&startWorkflow, "workflow", "rewrite", "workflow kind (rewrite, lore-backport, persona-edition, persona-review)")
	startCmd.Flags().StringVar(&startPersona, "persona", "", "persona name for persona workflows")
	startCmd.Flags().StringSliceVar(&startDocuments, "document", nil, "lore document for lore-backport (repeatable)")
	startCmd.Flags().StringSliceVar(&startCultures, "culture", nil, "only include entities from these cultures")
	startCmd.Flags().IntVar(&startLimit, "limit", 0, "cap the number of entities (0 = all)")
	startCmd.Flags().IntVar(&startBatchSize, "batch-size", 0, "entities per batch (0 = configured default)")
	startCmd.Flags().BoolVar(&startAuto, "auto", false, "auto-continue through all batches")
	startCmd.Flags().BoolVar(&startRemote, "remote", false, "dispatch over the worker bridge")
	startCmd.Flags().StringVar(&startContextFile, "context-file", "", "JSON file with world context for the executor")
	startCmd.Flags().StringVar(&startProject, "project", "", "project id (defaults to configured project)")
	startCmd.Flags().StringVar(&startSimRun, "simulation-run", "", "simulation run id the entities came from")
	runCmd.AddCommand(startCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List persisted revision runs",
		RunE:  runStatusCmd,
	}
	runCmd.AddCommand(statusCmd)

	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Show the patches awaiting review",
		RunE:  runReview,
	}
	reviewCmd.Flags().StringVar(&runID, "run", "", "run id")
	runCmd.AddCommand(reviewCmd)

	acceptCmd := &cobra.Command{
		Use:   "accept ENTITY...",
		Short: "Mark entity patches accepted",
		Args:  cobra.MinimumNArgs(1),
		RunE:  makeDecide(true),
	}
	acceptCmd.Flags().StringVar(&runID, "run", "", "run id")
	runCmd.AddCommand(acceptCmd)

	rejectCmd := &cobra.Command{
		Use:   "reject ENTITY...",
		Short: "Mark entity patches rejected",
		Args:  cobra.MinimumNArgs(1),
		RunE:  makeDecide(false),
	}
	rejectCmd.Flags().StringVar(&runID, "run", "", "run id")
	runCmd.AddCommand(rejectCmd)

	continueCmd := &cobra.Command{
		Use:   "continue",
		Short: "Dispatch the next batch and wait for it",
		RunE:  runContinue,
	}
	addRunFlags(continueCmd)
	runCmd.AddCommand(continueCmd)

	autoCmd := &cobra.Command{
		Use:   "auto",
		Short: "Auto-continue through the remaining batches",
		RunE:  runAuto,
	}
	addRunFlags(autoCmd)
	runCmd.AddCommand(autoCmd)

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply accepted patches and finalize the run",
		RunE:  runApply,
	}
	applyCmd.Flags().StringVar(&runID, "run", "", "run id")
	applyCmd.Flags().StringVar(&runPersona, "persona", "", "persona name for persona workflows")
	applyCmd.Flags().StringSliceVar(&runDocs, "document", nil, "lore document for lore-backport (repeatable)")
	runCmd.AddCommand(applyCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a run and discard its patches",
		RunE:  runCancel,
	}
	cancelCmd.Flags().StringVar(&runID, "run", "", "run id")
	runCmd.AddCommand(cancelCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&runPersona, "persona", "", "persona name for persona workflows")
	cmd.Flags().StringSliceVar(&runDocs, "document", nil, "lore document for lore-backport (repeatable)")
	cmd.Flags().BoolVar(&runRemote, "remote", false, "dispatch over the worker bridge")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, appOptions{
		kind:      domain.WorkflowKind(startWorkflow),
		persona:   startPersona,
		documents: startDocuments,
		remote:    startRemote,
	})
	if err != nil {
		return err
	}
	defer a.close()

	entities, err := a.lib.LoadAll()
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	entities = filterEntities(entities, startCultures, startLimit)
	if len(entities) == 0 {
		return fmt.Errorf("no entities matched")
	}

	var worldContext json.RawMessage
	if startContextFile != "" {
		worldContext, err = os.ReadFile(startContextFile)
		if err != nil {
			return err
		}
	}

	projectID := startProject
	if projectID == "" {
		projectID = a.cfg.General.ProjectID
	}

	batchSize := startBatchSize
	if batchSize <= 0 {
		batchSize = a.cfg.Revision.BatchSize
	}

	if err := a.orch.StartRun(ctx, revision.StartConfig{
		ProjectID:       projectID,
		SimulationRunID: startSimRun,
		Entities:        entities,
		BatchSize:       batchSize,
		Context:         worldContext,
	}); err != nil {
		return err
	}
	if startAuto {
		if err := a.orch.AutoContinueAll(ctx); err != nil {
			return err
		}
	}

	run, err := a.orch.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Started run %s: %d entities in %d batches\n",
		run.RunID, len(entities), len(run.Batches))

	return waitAndReport(ctx, a)
}

func runContinue(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newAppForRun(ctx, runID, appOptions{persona: runPersona, documents: runDocs, remote: runRemote})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.ContinueToNextBatch(ctx); err != nil {
		return err
	}
	run, err := a.orch.Run(ctx)
	if err != nil {
		return err
	}
	if run.Status == domain.RunReviewing {
		fmt.Printf("All batches done; %d patches awaiting final review\n", len(run.AcceptedPatches()))
		return nil
	}
	return waitAndReport(ctx, a)
}

func runAuto(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newAppForRun(ctx, runID, appOptions{persona: runPersona, documents: runDocs, remote: runRemote})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.AutoContinueAll(ctx); err != nil {
		return err
	}
	run, err := a.orch.Run(ctx)
	if err != nil {
		return err
	}
	if run.Status != domain.RunGenerating {
		return reportRun(run)
	}
	return waitAndReport(ctx, a)
}

func waitAndReport(ctx context.Context, a *app) error {
	run, err := a.serveAndWait(ctx)
	if err != nil {
		return err
	}
	return reportRun(run)
}

func reportRun(run *domain.RevisionRun) error {
	switch run.Status {
	case domain.RunFailed:
		return fmt.Errorf("run %s failed: %s", run.RunID, run.Error)
	case domain.RunBatchReviewing:
		batch, err := run.CurrentBatch()
		if err != nil {
			return err
		}
		fmt.Printf("Batch %d/%d (%s) ready: %d patches. Review with `canonry run review`.\n",
			run.CurrentBatchIndex+1, len(run.Batches), batch.Culture, len(batch.Patches))
	case domain.RunReviewing:
		fmt.Printf("All batches done: %d patches awaiting final review. Apply with `canonry run apply`.\n",
			len(run.AcceptedPatches()))
	default:
		fmt.Printf("Run %s is %s\n", run.RunID, run.Status)
	}
	return nil
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
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
	if len(runs) == 0 {
		fmt.Println("No revision runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tKIND\tSTATUS\tBATCH\tUPDATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			r.RunID, r.Kind, r.Status,
			r.CurrentBatchIndex+1, len(r.Batches),
			humanize.Time(r.UpdatedAt))
	}
	return w.Flush()
}

func runReview(cmd *cobra.Command, args []string) error {
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

	run, err := resolveRun(ctx, store, runID)
	if err != nil {
		return err
	}

	var patches []domain.Patch
	switch run.Status {
	case domain.RunBatchReviewing:
		batch, err := run.CurrentBatch()
		if err != nil {
			return err
		}
		fmt.Printf("Run %s, batch %d/%d (%s):\n\n",
			run.RunID, run.CurrentBatchIndex+1, len(run.Batches), batch.Culture)
		patches = batch.Patches
	case domain.RunReviewing:
		fmt.Printf("Run %s, final review:\n\n", run.RunID)
		for i := range run.Batches {
			patches = append(patches, run.Batches[i].Patches...)
		}
	default:
		return fmt.Errorf("run %s is %s, nothing to review", run.RunID, run.Status)
	}

	for _, p := range patches {
		decision := "accept"
		if !run.Accepted(p.EntityID) {
			decision = "REJECT"
		}
		fmt.Printf("%s  %s (%s)\n", decision, p.EntityName, p.EntityID)
		for _, c := range p.Changes {
			fmt.Printf("    %s: %s\n", c.Field, truncate(c.Proposed, 100))
		}
		if p.Annotation != "" {
			fmt.Printf("    note: %s\n", p.Annotation)
		}
	}
	fmt.Printf("\n%d patches, %d accepted\n", len(patches), countAccepted(run, patches))
	return nil
}

func makeDecide(accepted bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newAppForRun(ctx, runID, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		for _, entityID := range args {
			if err := a.orch.TogglePatchDecision(ctx, entityID, accepted); err != nil {
				return err
			}
		}
		verb := "accepted"
		if !accepted {
			verb = "rejected"
		}
		fmt.Printf("Marked %d entities %s\n", len(args), verb)
		return nil
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newAppForRun(ctx, runID, appOptions{persona: runPersona, documents: runDocs})
	if err != nil {
		return err
	}
	defer a.close()

	patches, err := a.orch.ApplyAccepted(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Applied %d patches to %s\n", len(patches), a.cfg.General.LibraryDir)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newAppForRun(ctx, runID, appOptions{})
	if err != nil {
		// A failed run cannot be attached; drop its record directly.
		return dismissRun(ctx, runID)
	}
	defer a.close()

	id := a.orch.RunID()
	if err := a.orch.CancelRun(ctx); err != nil {
		return err
	}
	fmt.Printf("Cancelled run %s\n", id)
	return nil
}

func dismissRun(ctx context.Context, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := resolveRun(ctx, store, id)
	if err != nil {
		return err
	}
	if err := store.DeleteRun(ctx, run.RunID); err != nil {
		return err
	}
	fmt.Printf("Removed run %s (%s)\n", run.RunID, run.Status)
	return nil
}

func filterEntities(entities []*domain.Entity, cultures []string, limit int) []*domain.Entity {
	if len(cultures) > 0 {
		wanted := make(map[string]bool, len(cultures))
		for _, c := range cultures {
			wanted[c] = true
		}
		filtered := entities[:0]
		for _, e := range entities {
			if wanted[e.Culture] {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}
	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}
	return entities
}

func countAccepted(run *domain.RevisionRun, patches []domain.Patch) int {
	n := 0
	for _, p := range patches {
		if run.Accepted(p.EntityID) {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
