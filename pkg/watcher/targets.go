package watcher

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
	"github.com/pkg/errors"
)

// Target is the normalized shape for the per-type payloads CodeDeploy
// returns. Nothing downstream of this file sees the SDK's tagged variants.
type Target struct {
	ID              string
	Type            types.DeploymentTargetType
	Status          types.TargetStatus
	LastUpdatedAt   time.Time
	LifecycleEvents []types.LifecycleEvent
}

func (t Target) Active() bool {
	return t.Status == types.TargetStatusInProgress
}

func (t Target) Terminal() bool {
	switch t.Status {
	case types.TargetStatusSucceeded, types.TargetStatusFailed,
		types.TargetStatusSkipped, types.TargetStatusReady:
		return true
	}
	return false
}

// Targets returns the targets from the most recent poll, in no particular
// order.
func (w *Watcher) Targets() []Target {
	out := make([]Target, 0, len(w.targets))
	for _, t := range w.targets {
		out = append(out, t)
	}
	return out
}

// listTargetIDs pages through the deployment's target listing. The id set is
// fixed once known, so it is memoized. ok is false while the deployment has
// not progressed far enough to have targets; that is expected, not an error.
func (w *Watcher) listTargetIDs(ctx context.Context) (ids []string, ok bool, err error) {
	if w.targetIDs != nil {
		return w.targetIDs, true, nil
	}

	var next *string
	for {
		out, err := w.api.ListDeploymentTargets(ctx, &codedeploy.ListDeploymentTargetsInput{
			DeploymentId: aws.String(w.deploymentID),
			NextToken:    next,
		})
		if err != nil {
			var notStarted *types.DeploymentNotStartedException
			if errors.As(err, &notStarted) {
				return nil, false, nil
			}
			return nil, false, errors.Wrap(err, "list deployment targets")
		}
		ids = append(ids, out.TargetIds...)
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	w.targetIDs = ids
	return ids, true, nil
}

// fetchTargets batch-fetches full target records and normalizes them. Lambda
// targets come back from the batch call but are dropped here: only instance
// and ECS targets are monitored.
func (w *Watcher) fetchTargets(ctx context.Context) (map[string]Target, error) {
	ids, ok, err := w.listTargetIDs(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || len(ids) == 0 {
		return nil, nil
	}

	out, err := w.api.BatchGetDeploymentTargets(ctx, &codedeploy.BatchGetDeploymentTargetsInput{
		DeploymentId: aws.String(w.deploymentID),
		TargetIds:    ids,
	})
	if err != nil {
		return nil, errors.Wrap(err, "batch get deployment targets")
	}

	targets := make(map[string]Target, len(out.DeploymentTargets))
	for _, dt := range out.DeploymentTargets {
		t, ok := normalizeTarget(dt)
		if !ok {
			continue
		}
		targets[t.ID] = t
	}
	return targets, nil
}

func normalizeTarget(dt types.DeploymentTarget) (Target, bool) {
	switch dt.DeploymentTargetType {
	case types.DeploymentTargetTypeInstanceTarget:
		it := dt.InstanceTarget
		if it == nil {
			return Target{}, false
		}
		return Target{
			ID:              aws.ToString(it.TargetId),
			Type:            dt.DeploymentTargetType,
			Status:          it.Status,
			LastUpdatedAt:   aws.ToTime(it.LastUpdatedAt),
			LifecycleEvents: it.LifecycleEvents,
		}, true
	case types.DeploymentTargetTypeEcsTarget:
		et := dt.EcsTarget
		if et == nil {
			return Target{}, false
		}
		return Target{
			ID:              aws.ToString(et.TargetId),
			Type:            dt.DeploymentTargetType,
			Status:          et.Status,
			LastUpdatedAt:   aws.ToTime(et.LastUpdatedAt),
			LifecycleEvents: et.LifecycleEvents,
		}, true
	}
	return Target{}, false
}
