package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"conclave/internal/config"
	"conclave/internal/conflict"
	"conclave/internal/engine"
	"conclave/internal/registry"
	"conclave/internal/state"
	"conclave/internal/worker"
	"conclave/pkg/models"
)

var runVerbose bool

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a delegation workflow",
	Long: `Run a workflow file: score the work request, pick a delegation
strategy, and execute the task graph against the registered workers.

The workflow file describes the request, its complexity metrics, and
the dependency-ordered tasks:

  session: release-42
  key: refactor-auth
  request:
    description: Refactor the auth module
    priority: high
    capabilities: [analysis, build]
    metrics:
      file_count: 12
      change_volume: 400
      dependency_count: 6
      risk_level: medium
      estimated_duration_minutes: 120
  tasks:
    - id: analyze
      description: Map the blast radius
      capability: analysis
    - id: apply
      description: Apply the refactor
      capability: build
      depends_on: [analyze]`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print task lifecycle events as they happen")
}

// workflowFile is the on-disk workflow format.
type workflowFile struct {
	Session string `yaml:"session"`
	Key     string `yaml:"key"`
	Request struct {
		Description  string   `yaml:"description"`
		Priority     string   `yaml:"priority"`
		Capabilities []string `yaml:"capabilities"`
		Metrics      struct {
			FileCount                int    `yaml:"file_count"`
			ChangeVolume             int    `yaml:"change_volume"`
			DependencyCount          int    `yaml:"dependency_count"`
			RiskLevel                string `yaml:"risk_level"`
			EstimatedDurationMinutes int    `yaml:"estimated_duration_minutes"`
		} `yaml:"metrics"`
	} `yaml:"request"`
	Tasks []struct {
		ID          string   `yaml:"id"`
		Description string   `yaml:"description"`
		Capability  string   `yaml:"capability"`
		Priority    string   `yaml:"priority"`
		DependsOn   []string `yaml:"depends_on"`
		MaxRetries  int      `yaml:"max_retries"`
	} `yaml:"tasks"`
}

func loadWorkflow(path string) (*workflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	var wf workflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if wf.Session == "" || wf.Key == "" {
		return nil, errors.New("workflow needs a session and a key")
	}
	if len(wf.Tasks) == 0 {
		return nil, errors.New("workflow has no tasks")
	}
	return &wf, nil
}

func (wf *workflowFile) workRequest() models.WorkRequest {
	return models.WorkRequest{
		Description: wf.Request.Description,
		Priority:    models.TaskPriority(wf.Request.Priority),
		Metrics: models.ComplexityMetrics{
			FileCount:                wf.Request.Metrics.FileCount,
			ChangeVolume:             wf.Request.Metrics.ChangeVolume,
			DependencyCount:          wf.Request.Metrics.DependencyCount,
			RiskLevel:                models.RiskLevel(wf.Request.Metrics.RiskLevel),
			EstimatedDurationMinutes: wf.Request.Metrics.EstimatedDurationMinutes,
		},
		RequiredCapabilities: wf.Request.Capabilities,
	}
}

func (wf *workflowFile) taskList() []models.Task {
	tasks := make([]models.Task, 0, len(wf.Tasks))
	for _, t := range wf.Tasks {
		tasks = append(tasks, models.Task{
			ID:                 t.ID,
			Description:        t.Description,
			RequiredCapability: t.Capability,
			Priority:           models.TaskPriority(t.Priority),
			DependsOn:          t.DependsOn,
			MaxRetries:         t.MaxRetries,
		})
	}
	return tasks
}

// buildEngine assembles an engine from configuration.
func buildEngine(cfg config.Config) (*engine.Engine, func(), error) {
	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("load registry: %w", err)
	}

	var closers []io.Closer
	if cfg.Registry.Watch {
		watcher, err := registry.Watch(reg, cfg.Registry.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("watch registry: %w", err)
		}
		closers = append(closers, watcher)
	}

	var store *state.DB
	if cfg.State.Path != "" {
		store, err = state.Open(cfg.State.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open history store: %w", err)
		}
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate history store: %w", err)
		}
		closers = append(closers, store)
	}

	dispatcher := worker.NewCommandDispatcher(cfg.Worker.Command, cfg.Worker.Args, cfg.Worker.WorkDir, worker.NewRunner())

	opts := engine.Options{
		Registry:   reg,
		Dispatcher: dispatcher,
		Closers:    closers,
	}
	if store != nil {
		opts.Store = store
	}

	eng, err := engine.New(engine.Config{
		MaxConcurrentTasks: cfg.Engine.MaxConcurrentTasks,
		TaskTimeout:        cfg.Engine.TaskTimeout,
		RetryDelay:         cfg.Engine.RetryDelay,
		SessionIdleTimeout: cfg.Session.IdleTimeout,
		SessionReapEvery:   cfg.Session.ReapInterval,
		DefaultPolicy:      conflict.Policy(cfg.Conflict.DefaultPolicy),
		LogPath:            cfg.Log.Path,
	}, opts)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, err
	}
	return eng, func() { eng.Shutdown() }, nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Worker.Command == "" {
		return errors.New("no worker command configured (set worker.command)")
	}
	if cfg.Registry.Path == "" {
		return errors.New("no worker registry configured (set registry.path)")
	}

	wf, err := loadWorkflow(args[0])
	if err != nil {
		return err
	}

	eng, shutdown, err := buildEngine(*cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	if runVerbose {
		go func() {
			for ev := range eng.Events() {
				fmt.Printf("  [%s] %s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.TaskID)
			}
		}()
	}

	plan := eng.AnalyzeDelegation(wf.workRequest())
	printPlan(plan)

	result, err := eng.ExecuteDelegation(cmd.Context(), wf.Session, wf.Key, plan, wf.taskList())
	if err != nil {
		return fmt.Errorf("execute delegation: %w", err)
	}
	printResult(result)

	if result.Outcome == engine.OutcomeRejected {
		return fmt.Errorf("delegation rejected: %s", result.Reason)
	}
	return nil
}

func printPlan(plan models.DelegationPlan) {
	bold := color.New(color.Bold)
	bold.Printf("Strategy: %s", plan.Strategy)
	fmt.Printf(" (complexity %d, %s)\n", plan.Complexity.Value, plan.Complexity.Level)
	for _, reason := range plan.Complexity.Reasoning {
		fmt.Printf("  - %s\n", reason)
	}
	if plan.Degraded {
		color.Yellow("Degraded plan: %s", plan.Reason)
		return
	}
	fmt.Printf("Workers: %v", plan.WorkerIDs())
	if plan.CoordinatorID != "" {
		fmt.Printf(" (coordinator: %s)", plan.CoordinatorID)
	}
	fmt.Printf("\nEstimated duration: %s\n", plan.EstimatedDuration)
}

func printResult(result engine.DelegationResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	for _, r := range result.Results {
		switch {
		case r.Success:
			green.Printf("✓ %s", r.TaskID)
			fmt.Printf(" (%s on %s)\n", r.Duration.Round(time.Millisecond), r.WorkerID)
		case r.Error == models.ErrUpstreamFailure:
			yellow.Printf("- %s", r.TaskID)
			fmt.Println(" skipped: upstream failure")
		default:
			red.Printf("✗ %s", r.TaskID)
			fmt.Printf(" failed: %s\n", r.Error)
		}
	}

	switch result.Outcome {
	case engine.OutcomeSucceeded:
		green.Println("Delegation succeeded")
	case engine.OutcomePartial:
		yellow.Println("Delegation finished with partial failures")
	case engine.OutcomeRejected:
		red.Printf("Delegation rejected: %s\n", result.Reason)
	}
}
