package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/deploywatch/pkg/logtail"
	"github.com/go-go-golems/deploywatch/pkg/watcher"
)

const defaultPollInterval = 5 * time.Second

func newFollowCmd() *cobra.Command {
	var interval time.Duration
	var startTimeout time.Duration
	var stopOnInterrupt bool

	cmd := &cobra.Command{
		Use:   "follow <deployment-id>",
		Short: "Follow a deployment live, interleaving lifecycle events and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deploymentID := args[0]

			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") && opts.Interval > 0 {
				interval = opts.Interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := newAWSClient(ctx, opts)
			if err != nil {
				return err
			}

			w := watcher.New(client.CodeDeploy, watcher.Options{
				DeploymentID: deploymentID,
				LogGroups:    opts.LogGroups,
				Logs:         logtail.New(client.Logs),
				Out:          cmd.OutOrStdout(),
			})

			if err := w.WaitStarted(ctx, startTimeout); err != nil {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := w.FollowOnce(ctx); err != nil {
					return err
				}
				if w.Finished() {
					break
				}
				select {
				case <-ctx.Done():
					if stopOnInterrupt {
						// The signal context is already done; give the stop
						// request its own deadline.
						stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						log.Info().Str("deployment", deploymentID).Msg("interrupted, stopping deployment")
						if err := w.Stop(stopCtx); err != nil {
							return err
						}
					}
					return errors.Wrap(ctx.Err(), "follow interrupted")
				case <-ticker.C:
				}
			}

			log.Info().Str("deployment", deploymentID).
				Str("status", string(w.Status())).Msg("deployment finished")
			if w.Failed() {
				return errors.Errorf("deployment %s failed", deploymentID)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "Polling interval")
	cmd.Flags().DurationVar(&startTimeout, "start-timeout", 10*time.Minute, "How long to wait for the deployment to start (0 waits forever)")
	cmd.Flags().BoolVar(&stopOnInterrupt, "stop-on-interrupt", false, "Stop the deployment (with rollback) when interrupted")
	return cmd
}
