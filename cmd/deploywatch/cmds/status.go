package cmds

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/deploywatch/pkg/awsclient"
	"github.com/go-go-golems/deploywatch/pkg/watcher"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show deployment and target status as JSON",
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

			identity, err := client.CallerIdentity(ctx)
			if err != nil {
				return err
			}

			type target struct {
				ID            string     `json:"id"`
				Type          string     `json:"type"`
				Status        string     `json:"status"`
				LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
			}
			type status struct {
				DeploymentID string                   `json:"deployment_id"`
				Status       string                   `json:"status"`
				CreateTime   *time.Time               `json:"create_time,omitempty"`
				StartTime    *time.Time               `json:"start_time,omitempty"`
				CompleteTime *time.Time               `json:"complete_time,omitempty"`
				Targets      []target                 `json:"targets"`
				Caller       awsclient.CallerIdentity `json:"caller"`
			}

			st := status{
				DeploymentID: w.DeploymentID(),
				Status:       string(w.Status()),
				Caller:       identity,
			}
			if info := w.Info(); info != nil {
				st.CreateTime = info.CreateTime
				st.StartTime = info.StartTime
				st.CompleteTime = info.CompleteTime
			}
			for _, t := range w.Targets() {
				tt := target{
					ID:     t.ID,
					Type:   string(t.Type),
					Status: string(t.Status),
				}
				if !t.LastUpdatedAt.IsZero() {
					tt.LastUpdatedAt = aws.Time(t.LastUpdatedAt)
				}
				st.Targets = append(st.Targets, tt)
			}
			sort.Slice(st.Targets, func(i, j int) bool { return st.Targets[i].ID < st.Targets[j].ID })

			b, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
