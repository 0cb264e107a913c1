package main

// Package main is the entry point for the cerebricd supervisor daemon.
//
// Responsibilities:
//   - Load and validate configuration from YAML and CEREBRIC_* environment variables
//   - Wire the supervisor: audit trail, memory store, retrieval index, model
//     provider, guardrails, policy, approvals, simulator, task and tool
//     registries, decision loop, scheduler
//   - Probe optional host capabilities (model endpoint, systemd, sensors,
//     package manager) and register typed stand-ins for the missing ones
//   - Serve the dashboard HTTP API, Prometheus metrics, and the WebSocket
//     event stream
//   - Hot-apply the tunable configuration subset when the file changes
//
// Graceful Shutdown (SIGINT/SIGTERM):
//   - Stops arming triggers and drains in-flight jobs
//   - Closes WebSocket clients and the HTTP listener
//   - Closes the retrieval index and flushes the application log

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cerebric/cerebric/internal/approval"
	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/config"
	"github.com/cerebric/cerebric/internal/guardrail"
	"github.com/cerebric/cerebric/internal/llm"
	"github.com/cerebric/cerebric/internal/llm/ollama"
	"github.com/cerebric/cerebric/internal/loop"
	"github.com/cerebric/cerebric/internal/memory"
	"github.com/cerebric/cerebric/internal/policy"
	"github.com/cerebric/cerebric/internal/registry"
	"github.com/cerebric/cerebric/internal/retrieval"
	"github.com/cerebric/cerebric/internal/retry"
	"github.com/cerebric/cerebric/internal/scheduler"
	"github.com/cerebric/cerebric/internal/server"
	"github.com/cerebric/cerebric/internal/simulate"
	"github.com/cerebric/cerebric/internal/task"
	"github.com/cerebric/cerebric/internal/tools"
	"github.com/cerebric/cerebric/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cerebricd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	mgr := config.NewManager()
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := mgr.Get(ctx)

	app, err := audit.NewAppLogger(audit.AppLogConfig{
		Path:       filepath.Join(cfg.Dirs.Log, "cerebric.log"),
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Level:      cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("open application log: %w", err)
	}
	defer func() { _ = app.Sync() }()

	app.Info("cerebricd starting",
		zap.String("version", version.Version),
		zap.String("config_dir", cfg.Dirs.Config),
		zap.String("data_dir", cfg.Dirs.Data),
	)

	// Every audit record also reaches dashboard WebSocket clients.
	hub := server.NewHub(app.Named("hub"))
	trail := server.NewEventTrail(audit.NewLogger(filepath.Join(cfg.Dirs.Data, "audit"), app), hub)

	memStore := memory.NewStore(filepath.Join(cfg.Dirs.Data, "memory"), cfg.Memory.DefaultProfile, app.Named("memory"))

	idx, err := retrieval.OpenIndex(filepath.Join(cfg.Dirs.Data, "retrieval.db"), app.Named("retrieval"))
	if err != nil {
		return fmt.Errorf("open retrieval index: %w", err)
	}
	defer idx.Close()
	memStore.SetObserver(idx.IngestMemoryEntry)
	retriever := retrieval.NewCachedRetriever(idx, cfg.Retrieval.CacheTTL)

	caps := registry.New(app.Named("registry"))
	provider := buildProvider(cfg, app.Named("llm"))
	caps.Probe(ctx, registry.CapModelProvider, provider.HealthCheck)
	caps.Probe(ctx, registry.CapRetriever, func(ctx context.Context) error {
		_, derr := idx.DocumentCount(ctx)
		return derr
	})
	caps.Probe(ctx, registry.CapSystemd, registry.ProbeBinary("systemctl"))
	caps.Probe(ctx, registry.CapSensors, probePath("/sys/class/hwmon"))
	caps.Probe(ctx, registry.CapPackageManager, registry.ProbeAny(
		registry.ProbeBinary("apt-get"),
		registry.ProbeBinary("dnf"),
	))

	guard := guardrail.NewEngine(guardrailConfig(cfg), cfg.Dirs.Data, trail, app.Named("guardrail"))

	polDoc, err := loadPolicy(cfg.Policy.Path, app)
	if err != nil {
		return err
	}
	pol := policy.NewEngine(polDoc, app.Named("policy"))

	approver := approval.NewEngine(
		approval.NewStore(filepath.Join(cfg.Dirs.Data, "approval"), app.Named("approval")),
		trail, app.Named("approval"))

	tasks := task.NewRegistry()
	healthCheck := task.NewHealthCheck(nil, app.Named("task"))
	diskReport := task.NewDiskReport(app.Named("task"))
	logCleanup := task.NewLogCleanup(cfg.Dirs.Log, 0, app.Named("task"))
	tasks.Register(healthCheck)
	tasks.Register(diskReport)
	tasks.Register(logCleanup)

	toolset := tools.NewRegistry(trail, app.Named("tools"))
	toolset.Register(tools.Noop{})
	toolset.Register(tools.NewWriteConfig(cfg.Dirs.Config, app.Named("tools")))
	toolset.Register(tools.NewRunCommand(nil, app.Named("tools")))
	registerProbed(toolset, caps, registry.CapSystemd, "restart_service", func() tools.Tool {
		return tools.NewRestartService(app.Named("tools"))
	})
	registerProbed(toolset, caps, registry.CapSensors, "fan_control", func() tools.Tool {
		return tools.NewFanControl("", app.Named("tools"))
	})
	registerProbed(toolset, caps, registry.CapPackageManager, "package_update", func() tools.Tool {
		return tools.NewPackageUpdate(app.Named("tools"))
	})
	toolset.Register(tools.NewTaskTool(healthCheck, false))
	toolset.Register(tools.NewTaskTool(diskReport, false))
	toolset.Register(tools.NewTaskTool(logCleanup, true))

	lp := loop.New(loop.Deps{
		Provider:  provider,
		Retriever: retriever,
		Guard:     guard,
		Policy:    pol,
		Approver:  approver,
		Simulator: simulate.New(app.Named("simulate")),
		Tasks:     tasks,
		Tools:     toolset,
		Retry:     retry.New(app.Named("retry")),
		Memory:    memStore,
		Trail:     trail,
		Log:       app.Named("loop"),
	}, loopConfig(cfg))

	sched := scheduler.New(scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		MisfireGrace: cfg.Scheduler.MisfireGrace,
		TickInterval: cfg.Scheduler.TickInterval,
		QueueDepth:   cfg.Scheduler.QueueDepth,
	},
		scheduler.NewStore(filepath.Join(cfg.Dirs.Data, "scheduler"), trail, app.Named("scheduler")),
		lp, trail, app.Named("scheduler"))

	srv, err := server.New(server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		Version:            version.Version,
	}, server.Deps{
		Scheduler: sched,
		Guard:     guard,
		Approver:  approver,
		Trail:     trail,
		Hub:       hub,
		Log:       app.Named("server"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		sched.Stop(true)
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start dashboard: %w", err)
		}
		<-gctx.Done()
		return srv.Stop()
	})

	g.Go(func() error {
		watchConfig(gctx, mgr, lp, guard, pol, app)
		return nil
	})

	app.Info("cerebricd ready",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("provider", provider.Name()),
		zap.Bool("safe_mode", guard.SafeModeActive()),
	)

	err = g.Wait()
	app.Info("cerebricd stopped")
	return err
}

// buildProvider picks the model backend named by the configuration.
// Unknown names fall back to the stub, which answers every consultation
// with a conservative skip.
func buildProvider(cfg *config.Config, log *zap.Logger) llm.Provider {
	switch cfg.LLM.Provider {
	case "", "ollama":
		return ollama.New(ollama.Config{
			Endpoint: cfg.LLM.Endpoint,
			Model:    cfg.LLM.Model,
			Timeout:  cfg.LLM.Timeout,
		}, log)
	case "stub":
		return llm.NewStubProvider(nil)
	default:
		log.Warn("unknown model provider, running with the stub",
			zap.String("provider", cfg.LLM.Provider))
		return llm.NewStubProvider(nil)
	}
}

// loadPolicy reads the policy document, falling back to the built-in
// defaults when no file exists. A file that exists but does not parse
// aborts startup rather than silently running with weaker rules.
func loadPolicy(path string, app *zap.Logger) (*policy.Document, error) {
	doc, err := policy.Load(path)
	if err == nil {
		app.Info("policy loaded", zap.String("path", path))
		return doc, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		app.Info("no policy file, using built-in defaults", zap.String("path", path))
		return policy.DefaultDocument(), nil
	}
	return nil, fmt.Errorf("load policy: %w", err)
}

// registerProbed registers the real tool when its capability probe
// passed, otherwise a stand-in that fails every call with the typed
// unavailable error.
func registerProbed(reg *tools.Registry, caps *registry.Registry, capName, toolName string, build func() tools.Tool) {
	if err := caps.Require(capName); err != nil {
		reg.Register(tools.NewUnavailable(toolName, err))
		return
	}
	reg.Register(build())
}

// probePath reports whether the given filesystem path exists.
func probePath(path string) registry.Probe {
	return func(context.Context) error {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s not present", path)
		}
		return nil
	}
}

// watchConfig applies each validated configuration snapshot to the
// running components. Only the tunable subset takes effect without a
// restart; the policy file is re-read alongside it.
func watchConfig(ctx context.Context, mgr config.Manager, lp *loop.Loop, guard *guardrail.Engine, pol *policy.Engine, app *zap.Logger) {
	snaps := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			lp.Reconfigure(loopConfig(&snap))
			guard.UpdateTunables(
				snap.Guardrails.MinApprovalConfidence,
				snap.Guardrails.MinAutoConfidence,
				budgetFrom(&snap))

			doc, err := policy.Load(snap.Policy.Path)
			switch {
			case err == nil:
				pol.Reload(doc)
			case errors.Is(err, os.ErrNotExist):
				// No file: the built-in defaults keep applying.
			default:
				app.Warn("policy not reloaded", zap.Error(err))
			}
		}
	}
}

func guardrailConfig(cfg *config.Config) guardrail.Config {
	return guardrail.Config{
		MinApprovalConfidence: cfg.Guardrails.MinApprovalConfidence,
		MinAutoConfidence:     cfg.Guardrails.MinAutoConfidence,
		Budget:                budgetFrom(cfg),
		Anomaly: guardrail.AnomalyConfig{
			FailureThreshold:   cfg.Guardrails.Anomaly.FailureThreshold,
			ErrorRateThreshold: cfg.Guardrails.Anomaly.ErrorRateThreshold,
			ErrorRateWindow:    cfg.Guardrails.Anomaly.Window,
			MinWindowSamples:   cfg.Guardrails.Anomaly.MinWindowSamples,
			CPUSpikeThreshold:  cfg.Guardrails.Anomaly.CPUSpikeThreshold,
			CPUSpikeSamples:    cfg.Guardrails.Anomaly.CPUSpikeSamples,
			MemoryLeakSamples:  cfg.Guardrails.Anomaly.MemoryLeakSamples,
			MemoryLeakGrowthMB: cfg.Guardrails.Anomaly.MemoryLeakGrowthMB,
		},
	}
}

func budgetFrom(cfg *config.Config) guardrail.Budget {
	return guardrail.Budget{
		MaxCPUPercent:      cfg.Guardrails.Budget.MaxCPUPercent,
		MaxMemoryMB:        cfg.Guardrails.Budget.MaxMemoryMB,
		MaxDurationMinutes: cfg.Guardrails.Budget.MaxDurationMinutes,
		MaxPerHour:         float64(cfg.Guardrails.Budget.MaxPerHour),
	}
}

func loopConfig(cfg *config.Config) loop.Config {
	return loop.Config{
		ApprovalMode:    approval.Mode(cfg.Approval.Mode),
		ApprovalTimeout: cfg.Approval.Timeout,
		RetrievalK:      cfg.Retrieval.TopK,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
	}
}
