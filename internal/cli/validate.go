package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <program.yaml>",
		Short: "Check a program without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loadProgram(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			scripts := 0
			for _, t := range prog.Targets {
				scripts += len(t.Scripts)
			}
			fmt.Fprintf(out, "Program %q is valid\n", prog.Name)
			fmt.Fprintf(out, "  Targets:    %d\n", len(prog.Targets))
			fmt.Fprintf(out, "  Scripts:    %d\n", scripts)
			fmt.Fprintf(out, "  Blocks:     %s\n", humanize.Comma(int64(prog.Len())))
			procs := prog.Procedures()
			fmt.Fprintf(out, "  Procedures: %d\n", len(procs))
			for _, p := range procs {
				fmt.Fprintf(out, "    - %s\n", p)
			}
			return nil
		},
	}
}
