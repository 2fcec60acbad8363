package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/blocksched/internal/scheduler"
	"github.com/me/blocksched/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var flags schedulerFlags
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <program.yaml>",
		Short: "Run a program behind the debugger API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			prog, err := loadProgram(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg, prog, cmd.OutOrStdout(), scheduler.Config{}, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			opts := []server.Option{server.WithProfiler(eng.prof)}
			if eng.store != nil {
				opts = append(opts, server.WithStore(eng.store))
			}
			srv := server.New(cfg, eng.loop, logger, opts...)
			srv.StartScheduler(ctx)

			httpSrv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("debugger listening", "addr", cfg.Addr, "run_id", eng.runID)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					stop()
					eng.loop.Stop()
					return fmt.Errorf("listen %s: %w", cfg.Addr, err)
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown", "error", err)
			}
			return eng.loop.Stop()
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", ":8090", "Debugger API listen address")
	return cmd
}
