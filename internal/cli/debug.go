package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/me/blocksched/pkg/model"
	"github.com/spf13/cobra"
)

func newThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List the live threads of a served program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/threads")
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}
			var threads []model.ThreadInfo
			if err := json.Unmarshal(resp.Data, &threads); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(threads) == 0 {
				fmt.Fprintln(out, "No threads running.")
				return nil
			}
			fmt.Fprintf(out, "%-3s %-44s %-10s %-13s %s\n", "", "THREAD", "TARGET", "STATUS", "STACK")
			for _, th := range threads {
				mark := ""
				if th.Current {
					mark = "=>"
				}
				fmt.Fprintf(out, "%-3s %-44s %-10s %-13s %s\n",
					mark, th.ID, th.Target, th.Status, strings.Join(th.Stack, " > "))
			}
			return nil
		},
	}
}

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Control the debugger of a served program",
	}

	action := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := client.Post(path, nil)
				if err != nil {
					return fmt.Errorf("%s: %w", use, err)
				}
				return printDebugState(cmd.OutOrStdout(), resp)
			},
		}
	}

	toggle := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:       use + " on|off",
			Short:     short,
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"on", "off"},
			RunE: func(cmd *cobra.Command, args []string) error {
				var enabled bool
				switch args[0] {
				case "on":
					enabled = true
				case "off":
				default:
					return fmt.Errorf("expected on or off, got %q", args[0])
				}
				resp, err := client.Put(path, map[string]bool{"enabled": enabled})
				if err != nil {
					return fmt.Errorf("%s: %w", use, err)
				}
				return printDebugState(cmd.OutOrStdout(), resp)
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "state",
			Short: "Show debugger state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := client.Get("/api/v1/debug")
				if err != nil {
					return fmt.Errorf("state: %w", err)
				}
				return printDebugState(cmd.OutOrStdout(), resp)
			},
		},
		action("pause", "Enter single-step mode", "/api/v1/debug/pause"),
		action("step", "Advance the current thread by one block", "/api/v1/debug/step"),
		action("resume", "Leave single-step mode", "/api/v1/debug/resume"),
		toggle("breakpoints", "Enable or disable breakpoints", "/api/v1/debug/breakpoints"),
		toggle("turbo", "Enable or disable turbo mode", "/api/v1/turbo"),
	)
	return cmd
}

func printDebugState(out io.Writer, resp *apiResponse) error {
	var ds model.DebugState
	if err := json.Unmarshal(resp.Data, &ds); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	fmt.Fprintf(out, "Tick:        %d\n", ds.Tick)
	fmt.Fprintf(out, "Threads:     %d\n", ds.Threads)
	fmt.Fprintf(out, "Single-step: %v\n", ds.SingleStep)
	fmt.Fprintf(out, "Breakpoints: %v\n", ds.Breakpoints)
	fmt.Fprintf(out, "Turbo:       %v\n", ds.Turbo)
	if ds.CurrentThread != "" {
		fmt.Fprintf(out, "Current:     %s\n", ds.CurrentThread)
	}
	return nil
}

func newRunInfoCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runinfo <run_id>",
		Short: "Show a recorded run and the threads it retired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			resp, err := client.Get("/api/v1/runs/" + id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			var run model.Run
			if err := json.Unmarshal(resp.Data, &run); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:     %s\n", run.ID)
			fmt.Fprintf(out, "Program: %s\n", run.Program)
			fmt.Fprintf(out, "State:   %s\n", run.State)
			fmt.Fprintf(out, "Ticks:   %d\n", run.Ticks)
			fmt.Fprintf(out, "Retired: %d\n", run.Retired)

			resp, err = client.Get(fmt.Sprintf("/api/v1/runs/%s/retired?limit=%d", id, limit))
			if err != nil {
				return fmt.Errorf("list retired: %w", err)
			}
			var retired []model.RetiredThread
			if err := json.Unmarshal(resp.Data, &retired); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			for _, th := range retired {
				how := "finished"
				if th.Killed {
					how = "killed"
				}
				fmt.Fprintf(out, "  - tick %d: %s (%s, %s) %s\n", th.Tick, th.ThreadID, th.Target, th.TopBlock, how)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Max retired threads to list")
	return cmd
}
