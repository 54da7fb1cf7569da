package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/config"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/events"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/metrics"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/orchestrator"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/persistence"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/pipeline"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/report"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Measure and price a batch of mask tasks",
		Long: `Read tasks from a JSON file (or stdin with "-") and run them.

Input is a single task or an array of tasks:

  {"id": "...", "source_id": "img-42", "tenant_id": "acme",
   "masks": [{"coordinates": [[lon, lat], ...], "confidence": 0.93,
              "feature_type": "mulch"}]}

Measured features, review requests and task audit records are stored in
the SQLite database.`,
		RunE: runProcess,
	}

	cmd.Flags().StringP("input", "i", "-", "Task JSON file, - for stdin")
	cmd.Flags().Bool("json", false, "Print reports as JSON")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while processing")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	input, _ := cmd.Flags().GetString("input")
	asJSON, _ := cmd.Flags().GetBool("json")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tasks, err := readTaskFile(input, cmd.InOrStdin())
	if err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("WARNING: metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	bus := events.NewBus()
	progress := bus.SubscribeAll(256)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for e := range progress {
			printEvent(cmd.ErrOrStderr(), e)
		}
	}()

	rc := cfg.RunnerConfig()
	rc.Features = store
	rc.Reviews = store
	rc.Recorder = store
	rc.Events = bus
	rc.Metrics = metrics.Default()

	results, runErr := orchestrator.NewRunner(rc).Run(ctx, tasks)
	bus.Close()
	<-progressDone

	out := cmd.OutOrStdout()
	failed := 0
	reports := make([]*report.Report, 0, len(results))
	for _, res := range results {
		if res.Status == scheduler.TaskFailedPermanently {
			failed++
		}
		reports = append(reports, report.FromResult(res))
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			printResult(out, res)
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d task(s) failed permanently", failed, len(results))
	}
	return nil
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the material estimate for a stored task",
		RunE:  runReport,
	}

	cmd.Flags().String("task", "", "Task ID (required)")
	cmd.Flags().String("tenant", "", "Tenant ID")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("task")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	taskID, _ := cmd.Flags().GetString("task")
	tenantID, _ := cmd.Flags().GetString("tenant")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	r, err := report.NewService(store, cfg.RateTable()).Generate(ctx, taskID, tenantID)
	if err != nil {
		return err
	}
	if run, err := store.GetTaskRun(ctx, taskID); err == nil {
		r.Status = run.Status.String()
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(out, r)
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("global", false, "Write ~/.landscape-measure/config.json instead of the project file")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	global, _ := cmd.Flags().GetBool("global")
	force, _ := cmd.Flags().GetBool("force")

	path := config.ProjectPath()
	if explicit, _ := cmd.Flags().GetString("config"); explicit != "" {
		path = explicit
	}
	if global {
		p, err := config.GlobalPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("Wrote"), path)
	return nil
}

// loadConfig merges the global file with the project file (or --config) and
// applies --db.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if explicit, _ := cmd.Flags().GetString("config"); explicit != "" {
		if _, statErr := os.Stat(explicit); statErr != nil {
			return nil, fmt.Errorf("config file: %w", statErr)
		}
		globalPath, pathErr := config.GlobalPath()
		if pathErr != nil {
			return nil, pathErr
		}
		cfg, err = config.Load(globalPath, explicit)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DatabasePath = db
	}
	return cfg, nil
}

func readTaskFile(path string, stdin io.Reader) ([]scheduler.Task, error) {
	if path == "-" {
		return readTasks(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()
	return readTasks(f)
}

// readTasks decodes a single task object or an array of tasks.
func readTasks(r io.Reader) ([]scheduler.Task, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("input is empty")
	}

	if data[0] == '[' {
		var tasks []scheduler.Task
		if err := json.Unmarshal(data, &tasks); err != nil {
			return nil, fmt.Errorf("parsing tasks: %w", err)
		}
		return tasks, nil
	}

	var task scheduler.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parsing task: %w", err)
	}
	return []scheduler.Task{task}, nil
}

func statusLabel(status scheduler.TaskStatus) string {
	switch status {
	case scheduler.TaskSucceeded:
		return color.New(color.FgGreen).Sprint(status)
	case scheduler.TaskManualReview, scheduler.TaskSuperseded:
		return color.New(color.FgYellow).Sprint(status)
	case scheduler.TaskFailedPermanently:
		return color.New(color.FgRed).Sprint(status)
	default:
		return status.String()
	}
}

func printResult(w io.Writer, res scheduler.TaskResult) {
	fmt.Fprintf(w, "%s  %s  attempts=%d\n", res.Task.TaskID, statusLabel(res.Status), res.Attempts)
	for _, o := range res.Outcomes {
		switch o.Kind {
		case pipeline.OutcomeMeasured:
			cost := 0.0
			if o.Estimate != nil {
				cost = o.Estimate.TotalCost
			}
			fmt.Fprintf(w, "  [%d] %-8s %10.2f sq ft  $%10.2f\n", o.Index, o.FeatureType, o.AreaSqFt, cost)
		default:
			fmt.Fprintf(w, "  [%d] %-8s %s\n", o.Index, o.FeatureType, color.New(color.FgHiBlack).Sprint(o.Kind))
		}
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  %s %v\n", color.New(color.FgRed).Sprint("error:"), res.Err)
	}
	if len(res.Estimates) > 0 {
		fmt.Fprintf(w, "  total: $%.2f\n", report.FromResult(res).TotalCost)
	}
}

func printReport(w io.Writer, r *report.Report) {
	fmt.Fprintf(w, "Task %s", r.TaskID)
	if r.Status != "" {
		fmt.Fprintf(w, " (%s)", r.Status)
	}
	fmt.Fprintln(w)
	for _, est := range r.Estimates {
		line := fmt.Sprintf("  %-8s %10.2f sq ft @ $%5.2f  $%10.2f", est.FeatureType, est.AreaSqFt, est.UnitRate, est.TotalCost)
		if est.UnknownType {
			line += color.New(color.FgYellow).Sprint("  (no rate)")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  %s $%.2f\n", color.New(color.Bold).Sprint("Total:"), r.TotalCost)
}

func printEvent(w io.Writer, e events.Event) {
	switch ev := e.(type) {
	case events.TaskRetryScheduledEvent:
		fmt.Fprintf(w, "%s %s retry %d in %s: %v\n",
			color.New(color.FgYellow).Sprint("retry"), ev.ID, ev.AttemptCount, ev.Delay.Round(time.Millisecond), ev.Err)
	case events.TaskSupersededEvent:
		fmt.Fprintf(w, "%s %s replaced by %s\n", color.New(color.FgYellow).Sprint("superseded"), ev.ID, ev.SupersededBy)
	case events.DeviationExceededEvent:
		fmt.Fprintf(w, "%s %s mask %d area changed %.2f%% (bound %.2f%%)\n",
			color.New(color.FgYellow).Sprint("deviation"), ev.ID, ev.MaskIndex, ev.Relative*100, ev.Bound*100)
	case events.MaskRejectedEvent:
		fmt.Fprintf(w, "%s %s mask %d: %s\n", color.New(color.FgHiBlack).Sprint("rejected"), ev.ID, ev.MaskIndex, ev.Reason)
	}
}
