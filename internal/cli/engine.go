package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/me/blocksched/internal/config"
	"github.com/me/blocksched/internal/graph"
	"github.com/me/blocksched/internal/primitives"
	"github.com/me/blocksched/internal/profiler"
	"github.com/me/blocksched/internal/scheduler"
	"github.com/me/blocksched/internal/sequencer"
	"github.com/me/blocksched/internal/store"
	"github.com/spf13/cobra"
)

// engine is a loaded program wired to a runtime, a scheduler loop and,
// optionally, a run log.
type engine struct {
	prog  *graph.Program
	rt    *sequencer.Runtime
	loop  *scheduler.Loop
	store store.Store
	prof  *profiler.Profiler
	runID string
}

// loadProgram reads and validates a program file.
func loadProgram(path string) (*graph.Program, error) {
	prog, err := graph.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid program %s:\n%w", path, err)
	}
	return prog, nil
}

// newEngine builds the scheduler for prog and starts its flag scripts. Say
// output goes to out.
func newEngine(ctx context.Context, cfg config.SchedulerConfig, prog *graph.Program, out io.Writer, loopCfg scheduler.Config, logger *slog.Logger) (*engine, error) {
	rt := sequencer.NewRuntime(cfg.StepTime)
	rt.TurboMode = cfg.Turbo
	rt.BreakpointsEnabled = cfg.Breakpoints
	rt.SingleStepMode = cfg.SingleStep

	prof := profiler.New(cfg.Profile)
	if cfg.Profile {
		rt.Profiler = prof
	}

	seq := sequencer.New(rt, prog, primitives.NewExecutor(out, logger), logger,
		sequencer.WithWarpBudget(cfg.WarpBudget))
	primitives.StartScripts(rt, prog)

	var st store.Store
	if cfg.DBPath != "" {
		s, err := store.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database ready", "path", cfg.DBPath)
		st = s
	}

	loopCfg.StepTime = cfg.StepTime
	loopCfg.MaxTicks = cfg.MaxTicks
	loop := scheduler.NewLoop(rt, seq, st, loopCfg, logger)
	runID, err := loop.Begin(ctx, prog.Name)
	if err != nil {
		if st != nil {
			st.Close()
		}
		return nil, err
	}

	return &engine{prog: prog, rt: rt, loop: loop, store: st, prof: prof, runID: runID}, nil
}

func (e *engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// schedulerFlags are the config overrides shared by run and serve.
type schedulerFlags struct {
	configPath  string
	stepTime    time.Duration
	warpBudget  time.Duration
	turbo       bool
	breakpoints bool
	singleStep  bool
	maxTicks    int
	profile     bool
	db          string
}

func (f *schedulerFlags) register(cmd *cobra.Command) {
	defaults := config.DefaultSchedulerConfig()
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML scheduler config file")
	fl.DurationVar(&f.stepTime, "step-time", defaults.StepTime, "Tick length")
	fl.DurationVar(&f.warpBudget, "warp-budget", defaults.WarpBudget, "Max batching time of a warped thread")
	fl.BoolVar(&f.turbo, "turbo", false, "Keep stepping after redraw requests")
	fl.BoolVar(&f.breakpoints, "breakpoints", false, "Pause at breakpoint blocks")
	fl.BoolVar(&f.singleStep, "single-step", false, "Start paused in single-step mode")
	fl.IntVar(&f.maxTicks, "max-ticks", 0, "Stop after this many ticks (0 = until idle)")
	fl.BoolVar(&f.profile, "profile", false, "Collect and report profiler frames")
	fl.StringVar(&f.db, "db", "", "SQLite run log path (empty disables)")
}

// resolve loads the config file, if any, and applies explicitly set flags
// on top.
func (f *schedulerFlags) resolve(cmd *cobra.Command) (config.SchedulerConfig, error) {
	cfg := config.DefaultSchedulerConfig()
	if f.configPath != "" {
		if err := config.LoadFile(f.configPath, &cfg); err != nil {
			return cfg, err
		}
	}

	fl := cmd.Flags()
	if fl.Changed("step-time") {
		cfg.StepTime = f.stepTime
	}
	if fl.Changed("warp-budget") {
		cfg.WarpBudget = f.warpBudget
	}
	if fl.Changed("turbo") {
		cfg.Turbo = f.turbo
	}
	if fl.Changed("breakpoints") {
		cfg.Breakpoints = f.breakpoints
	}
	if fl.Changed("single-step") {
		cfg.SingleStep = f.singleStep
	}
	if fl.Changed("max-ticks") {
		cfg.MaxTicks = f.maxTicks
	}
	if fl.Changed("profile") {
		cfg.Profile = f.profile
	}
	if fl.Changed("db") {
		cfg.DBPath = f.db
	}
	return cfg, cfg.Validate()
}
