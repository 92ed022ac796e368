package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/deploywatch/pkg/watcher"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <deployment-id>",
		Short: "Stop a running deployment with automatic rollback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := newAWSClient(ctx, opts)
			if err != nil {
				return err
			}

			w := watcher.New(client.CodeDeploy, watcher.Options{DeploymentID: args[0]})
			if _, err := w.RefreshOnce(ctx); err != nil {
				return err
			}
			return w.Stop(ctx)
		},
	}
}
