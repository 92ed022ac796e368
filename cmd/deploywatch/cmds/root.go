package cmds

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func AddCommands(root *cobra.Command) error {
	root.AddCommand(newFollowCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newStopCmd())
	return nil
}

// InitLogging configures the global zerolog logger from --log-level. The
// narrative goes to stdout; diagnostics go to stderr so they can be split.
func InitLogging(cmd *cobra.Command) error {
	levelStr, err := cmd.Root().PersistentFlags().GetString("log-level")
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}
