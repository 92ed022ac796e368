package cmds

import (
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/deploywatch/pkg/logtail"
	"github.com/go-go-golems/deploywatch/pkg/watcher"
)

func newShowCmd() *cobra.Command {
	var fromStr, toStr string

	cmd := &cobra.Command{
		Use:   "show <deployment-id>",
		Short: "One-shot retrospective view of a deployment's log output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			var from, to time.Time
			if fromStr != "" {
				if from, err = dateparse.ParseAny(fromStr); err != nil {
					return errors.Wrap(err, "parse --from")
				}
			}
			if toStr != "" {
				if to, err = dateparse.ParseAny(toStr); err != nil {
					return errors.Wrap(err, "parse --to")
				}
			}

			ctx := cmd.Context()
			client, err := newAWSClient(ctx, opts)
			if err != nil {
				return err
			}

			w := watcher.New(client.CodeDeploy, watcher.Options{
				DeploymentID: args[0],
				LogGroups:    opts.LogGroups,
				Logs:         logtail.New(client.Logs),
				Out:          cmd.OutOrStdout(),
			})
			return w.ShowOnce(ctx, from, to)
		},
	}

	cmd.Flags().StringVar(&fromStr, "from", "", "Only show logs after this time (any common date format)")
	cmd.Flags().StringVar(&toStr, "to", "", "Only show logs before this time")
	return cmd
}
