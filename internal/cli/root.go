package cli

import (
	"log/slog"
	"os"

	"github.com/me/blocksched/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default debugger URL, checking BLOCKSCHED_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("BLOCKSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8090"
}

// NewRootCmd creates the root cobra command for the blocksched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blocksched",
		Short: "blocksched runs block programs",
		Long:  "blocksched loads block programs, runs their scripts tick by tick and exposes a single-step debugger.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Debugger API URL (or BLOCKSCHED_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newValidateCmd(),
		newThreadsCmd(),
		newDebugCmd(),
		newRunInfoCmd(),
	)

	return root
}
