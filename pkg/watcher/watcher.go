// Package watcher follows one CodeDeploy deployment and prints a single
// time-ordered narrative: per-target lifecycle transitions interleaved with
// the log output the targets produced while deploying.
package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/deploywatch/pkg/logtail"
)

// startPollInterval is how often WaitStarted re-polls a queued deployment.
const startPollInterval = time.Second

// DeployAPI is the slice of the CodeDeploy client the watcher uses.
type DeployAPI interface {
	GetDeployment(ctx context.Context, params *codedeploy.GetDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.GetDeploymentOutput, error)
	ListDeploymentTargets(ctx context.Context, params *codedeploy.ListDeploymentTargetsInput, optFns ...func(*codedeploy.Options)) (*codedeploy.ListDeploymentTargetsOutput, error)
	BatchGetDeploymentTargets(ctx context.Context, params *codedeploy.BatchGetDeploymentTargetsInput, optFns ...func(*codedeploy.Options)) (*codedeploy.BatchGetDeploymentTargetsOutput, error)
	StopDeployment(ctx context.Context, params *codedeploy.StopDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.StopDeploymentOutput, error)
}

// LogTailer is the log-retrieval collaborator. pkg/logtail provides the
// CloudWatch Logs implementation; tests substitute fakes.
type LogTailer interface {
	AddStream(group, stream string, from time.Time)
	RemoveStream(group, stream string)
	SetTimeRange(start, end time.Time)
	Follow(ctx context.Context) ([]logtail.Entry, error)
}

// StartTimeoutError is returned by WaitStarted when the deployment stays
// queued past the deadline.
type StartTimeoutError struct {
	DeploymentID string
}

func (e *StartTimeoutError) Error() string {
	return fmt.Sprintf("deployment %s timed out while starting", e.DeploymentID)
}

type Options struct {
	DeploymentID string
	LogGroups    []string
	Logs         LogTailer
	Out          io.Writer

	// Now and Sleep exist so tests can run the wait loop without wall-clock
	// delay. Zero values mean time.Now / time.Sleep.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Watcher tracks exactly one deployment. It is single-threaded by contract:
// all methods must be called from the same goroutine.
type Watcher struct {
	deploymentID string
	logGroups    []string

	api  DeployAPI
	logs LogTailer
	out  io.Writer

	info         *types.DeploymentInfo
	status       types.DeploymentStatus
	completeTime time.Time

	targetIDs []string
	targets   map[string]Target

	// seen maps target id -> lifecycle event name -> last emitted value.
	// Grows for the lifetime of the watcher; never shrinks.
	seen map[string]map[string]types.LifecycleEvent

	// watermark is the max LastUpdatedAt across all targets processed so
	// far; targets at or below it are skipped on the next poll.
	watermark time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

func New(api DeployAPI, opts Options) *Watcher {
	w := &Watcher{
		deploymentID: opts.DeploymentID,
		logGroups:    opts.LogGroups,
		api:          api,
		logs:         opts.Logs,
		out:          opts.Out,
		seen:         map[string]map[string]types.LifecycleEvent{},
		now:          opts.Now,
		sleep:        opts.Sleep,
	}
	if w.out == nil {
		w.out = os.Stderr
	}
	if w.logs == nil {
		w.logs = noopTailer{}
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.sleep == nil {
		w.sleep = time.Sleep
	}
	return w
}

func (w *Watcher) DeploymentID() string           { return w.deploymentID }
func (w *Watcher) Status() types.DeploymentStatus { return w.status }
func (w *Watcher) Info() *types.DeploymentInfo    { return w.info }

// Started reports whether the deployment has left the pre-start statuses.
// Before the first successful poll the status is unknown and counts as not
// started.
func (w *Watcher) Started() bool {
	switch w.status {
	case "", types.DeploymentStatusCreated, types.DeploymentStatusQueued:
		return false
	}
	return true
}

// Finished includes Stopped because this tool can itself stop a deployment.
func (w *Watcher) Finished() bool {
	switch w.status {
	case types.DeploymentStatusSucceeded, types.DeploymentStatusFailed, types.DeploymentStatusStopped:
		return true
	}
	return false
}

func (w *Watcher) Failed() bool {
	return w.status == types.DeploymentStatusFailed
}

// RefreshOnce polls the deployment and its targets. It returns false while
// the deployment has no targets yet, which is the normal state during
// provisioning, not an error.
func (w *Watcher) RefreshOnce(ctx context.Context) (bool, error) {
	out, err := w.api.GetDeployment(ctx, &codedeploy.GetDeploymentInput{
		DeploymentId: aws.String(w.deploymentID),
	})
	if err != nil {
		return false, errors.Wrap(err, "get deployment")
	}
	if out.DeploymentInfo == nil {
		return false, errors.Errorf("deployment %s: empty deployment info", w.deploymentID)
	}
	w.info = out.DeploymentInfo
	w.status = out.DeploymentInfo.Status

	// Capture the completion time exactly once; later polls may not return
	// a fresh value.
	if w.completeTime.IsZero() && w.Finished() {
		if out.DeploymentInfo.CompleteTime != nil {
			w.completeTime = *out.DeploymentInfo.CompleteTime
		} else {
			w.completeTime = w.now()
		}
	}

	targets, err := w.fetchTargets(ctx)
	if err != nil {
		return false, err
	}
	w.targets = targets
	if len(targets) == 0 {
		log.Info().Str("deployment", w.deploymentID).Msg("deployment has no targets yet, waiting")
		return false, nil
	}
	return true, nil
}

// WaitStarted blocks until the deployment leaves the queued state, re-polling
// once per second. A timeout of zero waits forever.
func (w *Watcher) WaitStarted(ctx context.Context, timeout time.Duration) error {
	if w.Started() {
		return nil
	}
	log.Info().Str("deployment", w.deploymentID).Msg("deployment is pending, waiting for start")

	var deadline time.Time
	if timeout > 0 {
		deadline = w.now().Add(timeout)
	}
	for {
		if _, err := w.RefreshOnce(ctx); err != nil {
			return err
		}
		if w.Started() {
			return nil
		}
		if !deadline.IsZero() && !w.now().Before(deadline) {
			return &StartTimeoutError{DeploymentID: w.deploymentID}
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "wait for deployment start")
		}
		w.sleep(startPollInterval)
	}
}

// FollowOnce runs one incremental poll-and-print cycle: refresh state, diff
// lifecycle events for targets updated past the watermark, adjust log stream
// subscriptions for activity transitions, then render everything new.
func (w *Watcher) FollowOnce(ctx context.Context) error {
	ok, err := w.RefreshOnce(ctx)
	if err != nil || !ok {
		return err
	}

	newWatermark := w.watermark
	var fresh []lifecycleRecord
	for id, t := range w.targets {
		if !t.LastUpdatedAt.After(w.watermark) {
			continue
		}
		if t.LastUpdatedAt.After(newWatermark) {
			newWatermark = t.LastUpdatedAt
		}

		fresh = append(fresh, w.diffLifecycleEvents(id, t.LifecycleEvents)...)

		// Once the deployment is terminal there is nothing left to tail;
		// leave the subscriptions as they are for the final drain.
		if !w.Finished() {
			switch {
			case t.Active():
				w.enableLogTarget(id, w.watermark)
			case t.Terminal():
				w.disableLogTarget(id)
			}
		}
	}
	w.watermark = newWatermark

	w.renderLifecycleEvents(fresh)
	return w.renderLogRecords(ctx)
}

// ShowOnce is the one-shot retrospective view: it bounds the log window by
// the deployment's own lifetime, subscribes every target unconditionally and
// renders the log drain. No lifecycle diffing; this mode inspects history
// rather than narrating changes. Non-zero from/to narrow the window further.
func (w *Watcher) ShowOnce(ctx context.Context, from, to time.Time) error {
	ok, err := w.RefreshOnce(ctx)
	if err != nil || !ok {
		return err
	}

	start := aws.ToTime(w.info.StartTime)
	if start.IsZero() {
		start = aws.ToTime(w.info.CreateTime)
	}
	end := w.completeTime
	if !from.IsZero() {
		start = from
	}
	if !to.IsZero() {
		end = to
	}
	w.logs.SetTimeRange(start, end)

	for id := range w.targets {
		w.enableLogTarget(id, time.Time{})
	}
	return w.renderLogRecords(ctx)
}

// Stop requests a stop with automatic rollback. Stopping a deployment that
// never started is meaningless, so that case is a no-op.
func (w *Watcher) Stop(ctx context.Context) error {
	if !w.Started() {
		log.Info().Str("deployment", w.deploymentID).Msg("deployment not started, nothing to stop")
		return nil
	}
	_, err := w.api.StopDeployment(ctx, &codedeploy.StopDeploymentInput{
		DeploymentId:        aws.String(w.deploymentID),
		AutoRollbackEnabled: aws.Bool(true),
	})
	return errors.Wrap(err, "stop deployment")
}

// noopTailer stands in when no log groups are being monitored.
type noopTailer struct{}

func (noopTailer) AddStream(string, string, time.Time)             {}
func (noopTailer) RemoveStream(string, string)                     {}
func (noopTailer) SetTimeRange(time.Time, time.Time)               {}
func (noopTailer) Follow(context.Context) ([]logtail.Entry, error) { return nil, nil }

func (w *Watcher) enableLogTarget(targetID string, from time.Time) {
	for _, group := range w.logGroups {
		w.logs.AddStream(group, targetID, from)
	}
}

func (w *Watcher) disableLogTarget(targetID string) {
	for _, group := range w.logGroups {
		w.logs.RemoveStream(group, targetID)
	}
}
