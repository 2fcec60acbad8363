package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/blocksched/internal/scheduler"
	"github.com/me/blocksched/pkg/model"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var flags schedulerFlags

	cmd := &cobra.Command{
		Use:   "run <program.yaml>",
		Short: "Run a program until all its scripts finish",
		Long: `Loads a program, starts every "when flag clicked" script and ticks the
scheduler until no thread is left, --max-ticks is reached or the process is
interrupted. Breakpoints are logged and execution continues.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			if cfg.SingleStep {
				return fmt.Errorf("single-step mode needs a debugger; use serve")
			}
			prog, err := loadProgram(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			eng, err := newEngine(ctx, cfg, prog, out, scheduler.Config{AutoResume: true}, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			start := time.Now()
			state, err := eng.loop.RunUntilIdle(ctx)
			elapsed := time.Since(start)
			if err != nil && err != context.Canceled {
				return fmt.Errorf("run %s: %w", eng.runID, err)
			}

			fmt.Fprintf(out, "Run %s %s after %s ticks in %s; %s threads retired\n",
				eng.runID, state,
				humanize.Comma(int64(eng.loop.Ticks())),
				elapsed.Round(time.Millisecond),
				humanize.Comma(int64(eng.loop.Retired())))
			if cfg.Profile {
				eng.prof.WriteReport(out)
			}
			if state == model.RunStateStopped && cfg.MaxTicks > 0 {
				fmt.Fprintf(out, "Stopped at the %s tick limit with %d threads running\n",
					humanize.Ordinal(cfg.MaxTicks), eng.loop.ThreadCount())
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
