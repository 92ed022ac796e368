package watcher

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/deploywatch/pkg/logtail"
)

type fakeDeployAPI struct {
	getDeployment   func(*codedeploy.GetDeploymentInput) (*codedeploy.GetDeploymentOutput, error)
	listTargets     func(*codedeploy.ListDeploymentTargetsInput) (*codedeploy.ListDeploymentTargetsOutput, error)
	batchGetTargets func(*codedeploy.BatchGetDeploymentTargetsInput) (*codedeploy.BatchGetDeploymentTargetsOutput, error)
	stopDeployment  func(*codedeploy.StopDeploymentInput) (*codedeploy.StopDeploymentOutput, error)
}

var _ DeployAPI = (*fakeDeployAPI)(nil)

func (f *fakeDeployAPI) GetDeployment(ctx context.Context, in *codedeploy.GetDeploymentInput, _ ...func(*codedeploy.Options)) (*codedeploy.GetDeploymentOutput, error) {
	return f.getDeployment(in)
}

func (f *fakeDeployAPI) ListDeploymentTargets(ctx context.Context, in *codedeploy.ListDeploymentTargetsInput, _ ...func(*codedeploy.Options)) (*codedeploy.ListDeploymentTargetsOutput, error) {
	return f.listTargets(in)
}

func (f *fakeDeployAPI) BatchGetDeploymentTargets(ctx context.Context, in *codedeploy.BatchGetDeploymentTargetsInput, _ ...func(*codedeploy.Options)) (*codedeploy.BatchGetDeploymentTargetsOutput, error) {
	return f.batchGetTargets(in)
}

func (f *fakeDeployAPI) StopDeployment(ctx context.Context, in *codedeploy.StopDeploymentInput, _ ...func(*codedeploy.Options)) (*codedeploy.StopDeploymentOutput, error) {
	return f.stopDeployment(in)
}

type fakeTailer struct {
	added      []string
	removed    []string
	rangeStart time.Time
	rangeEnd   time.Time
	entries    []logtail.Entry
}

var _ LogTailer = (*fakeTailer)(nil)

func (f *fakeTailer) AddStream(group, stream string, from time.Time) {
	f.added = append(f.added, group+"/"+stream)
}

func (f *fakeTailer) RemoveStream(group, stream string) {
	f.removed = append(f.removed, group+"/"+stream)
}

func (f *fakeTailer) SetTimeRange(start, end time.Time) {
	f.rangeStart, f.rangeEnd = start, end
}

func (f *fakeTailer) Follow(ctx context.Context) ([]logtail.Entry, error) {
	es := f.entries
	f.entries = nil
	return es, nil
}

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func deploymentOutput(status types.DeploymentStatus, complete *time.Time) *codedeploy.GetDeploymentOutput {
	return &codedeploy.GetDeploymentOutput{
		DeploymentInfo: &types.DeploymentInfo{
			DeploymentId: aws.String("d-123"),
			Status:       status,
			CreateTime:   aws.Time(base),
			StartTime:    aws.Time(base.Add(time.Second)),
			CompleteTime: complete,
		},
	}
}

func instanceTarget(id string, status types.TargetStatus, updated time.Time, events ...types.LifecycleEvent) types.DeploymentTarget {
	return types.DeploymentTarget{
		DeploymentTargetType: types.DeploymentTargetTypeInstanceTarget,
		InstanceTarget: &types.InstanceTarget{
			TargetId:        aws.String(id),
			Status:          status,
			LastUpdatedAt:   aws.Time(updated),
			LifecycleEvents: events,
		},
	}
}

func lambdaTarget(id string, status types.TargetStatus, updated time.Time) types.DeploymentTarget {
	return types.DeploymentTarget{
		DeploymentTargetType: types.DeploymentTargetTypeLambdaTarget,
		LambdaTarget: &types.LambdaTarget{
			TargetId:      aws.String(id),
			Status:        status,
			LastUpdatedAt: aws.Time(updated),
		},
	}
}

func lifecycleEvent(name string, status types.LifecycleEventStatus, start, end *time.Time) types.LifecycleEvent {
	return types.LifecycleEvent{
		LifecycleEventName: aws.String(name),
		Status:             status,
		StartTime:          start,
		EndTime:            end,
	}
}

// pollScript replays a fixed sequence of polls; the test advances the index.
type pollScript struct {
	idx     int
	polls   []scriptedPoll
	listErr error
}

type scriptedPoll struct {
	deployment *codedeploy.GetDeploymentOutput
	targets    []types.DeploymentTarget
}

func (s *pollScript) api() *fakeDeployAPI {
	return &fakeDeployAPI{
		getDeployment: func(*codedeploy.GetDeploymentInput) (*codedeploy.GetDeploymentOutput, error) {
			return s.polls[s.idx].deployment, nil
		},
		listTargets: func(*codedeploy.ListDeploymentTargetsInput) (*codedeploy.ListDeploymentTargetsOutput, error) {
			if s.listErr != nil {
				return nil, s.listErr
			}
			var ids []string
			for _, dt := range s.polls[s.idx].targets {
				switch dt.DeploymentTargetType {
				case types.DeploymentTargetTypeInstanceTarget:
					ids = append(ids, aws.ToString(dt.InstanceTarget.TargetId))
				case types.DeploymentTargetTypeLambdaTarget:
					ids = append(ids, aws.ToString(dt.LambdaTarget.TargetId))
				}
			}
			return &codedeploy.ListDeploymentTargetsOutput{TargetIds: ids}, nil
		},
		batchGetTargets: func(*codedeploy.BatchGetDeploymentTargetsInput) (*codedeploy.BatchGetDeploymentTargetsOutput, error) {
			return &codedeploy.BatchGetDeploymentTargetsOutput{
				DeploymentTargets: s.polls[s.idx].targets,
			}, nil
		},
		stopDeployment: func(*codedeploy.StopDeploymentInput) (*codedeploy.StopDeploymentOutput, error) {
			return &codedeploy.StopDeploymentOutput{}, nil
		},
	}
}

func TestFollowOnce_ScenarioThreePolls(t *testing.T) {
	t1 := base.Add(10 * time.Second)
	t2 := base.Add(20 * time.Second)
	t3 := base.Add(25 * time.Second)
	t4 := base.Add(30 * time.Second)

	script := &pollScript{polls: []scriptedPoll{
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusInProgress, t1,
					lifecycleEvent("Install", types.LifecycleEventStatusInProgress, aws.Time(t1), nil)),
			},
		},
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusInProgress, t2,
					lifecycleEvent("Install", types.LifecycleEventStatusSucceeded, aws.Time(t1), aws.Time(t2)),
					lifecycleEvent("AllowTraffic", types.LifecycleEventStatusInProgress, aws.Time(t3), nil)),
			},
		},
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusSucceeded, t4,
					lifecycleEvent("Install", types.LifecycleEventStatusSucceeded, aws.Time(t1), aws.Time(t2)),
					lifecycleEvent("AllowTraffic", types.LifecycleEventStatusSucceeded, aws.Time(t3), aws.Time(t4))),
			},
		},
	}}

	var out bytes.Buffer
	tailer := &fakeTailer{}
	w := New(script.api(), Options{
		DeploymentID: "d-123",
		LogGroups:    []string{"deploy-logs"},
		Logs:         tailer,
		Out:          &out,
	})

	ctx := context.Background()

	// Poll 1: one fresh event, target becomes active.
	require.NoError(t, w.FollowOnce(ctx))
	require.Equal(t,
		"d-123 (i-1): [2026-08-01 12:00:10] Install: InProgress \n",
		out.String())
	require.Equal(t, []string{"deploy-logs/i-1"}, tailer.added)
	require.Empty(t, tailer.removed)

	// Poll 2: exactly two new lines, no re-emission of poll 1's line.
	out.Reset()
	script.idx = 1
	require.NoError(t, w.FollowOnce(ctx))
	require.Equal(t,
		"d-123 (i-1): [2026-08-01 12:00:20] Install: Succeeded \n"+
			"d-123 (i-1): [2026-08-01 12:00:25] AllowTraffic: InProgress \n",
		out.String())
	require.Empty(t, tailer.removed)

	// Poll 3: target terminal, subscription ends.
	out.Reset()
	script.idx = 2
	require.NoError(t, w.FollowOnce(ctx))
	require.Equal(t, []string{"deploy-logs/i-1"}, tailer.removed)
}

func TestFollowOnce_ActivateDeactivateSymmetry(t *testing.T) {
	script := &pollScript{polls: []scriptedPoll{
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusPending, base.Add(1*time.Second)),
			},
		},
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusInProgress, base.Add(2*time.Second)),
			},
		},
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusSucceeded, base.Add(3*time.Second)),
			},
		},
	}}

	tailer := &fakeTailer{}
	w := New(script.api(), Options{
		DeploymentID: "d-123",
		LogGroups:    []string{"deploy-logs"},
		Logs:         tailer,
		Out:          &bytes.Buffer{},
	})

	ctx := context.Background()
	for i := range script.polls {
		script.idx = i
		require.NoError(t, w.FollowOnce(ctx))
	}

	require.Equal(t, []string{"deploy-logs/i-1"}, tailer.added)
	require.Equal(t, []string{"deploy-logs/i-1"}, tailer.removed)
}

func TestFollowOnce_WatermarkSkipsStaleTargets(t *testing.T) {
	updated := base.Add(10 * time.Second)
	poll := scriptedPoll{
		deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
		targets: []types.DeploymentTarget{
			instanceTarget("i-1", types.TargetStatusInProgress, updated,
				lifecycleEvent("Install", types.LifecycleEventStatusInProgress, aws.Time(updated), nil)),
		},
	}
	script := &pollScript{polls: []scriptedPoll{poll, poll}}

	var out bytes.Buffer
	w := New(script.api(), Options{DeploymentID: "d-123", Out: &out})

	ctx := context.Background()
	require.NoError(t, w.FollowOnce(ctx))
	first := out.String()
	require.NotEmpty(t, first)

	// Identical second poll: target not past the watermark, nothing emitted.
	out.Reset()
	script.idx = 1
	require.NoError(t, w.FollowOnce(ctx))
	require.Empty(t, out.String())
}

func TestFollowOnce_LambdaTargetsIgnored(t *testing.T) {
	script := &pollScript{polls: []scriptedPoll{
		{
			deployment: deploymentOutput(types.DeploymentStatusInProgress, nil),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusInProgress, base.Add(time.Second)),
				lambdaTarget("fn-1", types.TargetStatusInProgress, base.Add(time.Second)),
			},
		},
	}}

	tailer := &fakeTailer{}
	w := New(script.api(), Options{
		DeploymentID: "d-123",
		LogGroups:    []string{"deploy-logs"},
		Logs:         tailer,
		Out:          &bytes.Buffer{},
	})

	require.NoError(t, w.FollowOnce(context.Background()))
	require.Equal(t, []string{"deploy-logs/i-1"}, tailer.added)

	targets := w.Targets()
	require.Len(t, targets, 1)
	require.Equal(t, "i-1", targets[0].ID)
}

func TestRefreshOnce_NotStartedIsNotAnError(t *testing.T) {
	script := &pollScript{
		polls: []scriptedPoll{
			{deployment: deploymentOutput(types.DeploymentStatusCreated, nil)},
		},
		listErr: &types.DeploymentNotStartedException{Message: aws.String("deployment not started")},
	}

	w := New(script.api(), Options{DeploymentID: "d-123", Out: &bytes.Buffer{}})

	ok, err := w.RefreshOnce(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, w.Started())
}

func TestRefreshOnce_CompleteTimeCapturedOnce(t *testing.T) {
	firstComplete := base.Add(time.Minute)
	script := &pollScript{polls: []scriptedPoll{
		{
			deployment: deploymentOutput(types.DeploymentStatusSucceeded, aws.Time(firstComplete)),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusSucceeded, base.Add(time.Second)),
			},
		},
		{
			// A later poll reporting a different completion time must not win.
			deployment: deploymentOutput(types.DeploymentStatusSucceeded, aws.Time(firstComplete.Add(time.Hour))),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusSucceeded, base.Add(time.Second)),
			},
		},
	}}

	w := New(script.api(), Options{DeploymentID: "d-123", Out: &bytes.Buffer{}})

	ctx := context.Background()
	_, err := w.RefreshOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, firstComplete, w.completeTime)

	script.idx = 1
	_, err = w.RefreshOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, firstComplete, w.completeTime)
}

func TestWaitStarted_Timeout(t *testing.T) {
	script := &pollScript{
		polls: []scriptedPoll{
			{deployment: deploymentOutput(types.DeploymentStatusCreated, nil)},
		},
		listErr: &types.DeploymentNotStartedException{Message: aws.String("deployment not started")},
	}

	now := base
	w := New(script.api(), Options{
		DeploymentID: "d-123",
		Out:          &bytes.Buffer{},
		Now:          func() time.Time { return now },
		Sleep:        func(d time.Duration) { now = now.Add(d) },
	})

	err := w.WaitStarted(context.Background(), 5*time.Second)
	require.Error(t, err)

	var timeoutErr *StartTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, "d-123", timeoutErr.DeploymentID)
}

func TestWaitStarted_ReturnsOnceStarted(t *testing.T) {
	script := &pollScript{polls: []scriptedPoll{
		{deployment: deploymentOutput(types.DeploymentStatusInProgress, nil)},
	}}
	script.listErr = &types.DeploymentNotStartedException{Message: aws.String("deployment not started")}

	w := New(script.api(), Options{
		DeploymentID: "d-123",
		Out:          &bytes.Buffer{},
		Sleep:        func(time.Duration) { t.Fatal("should not sleep when already in progress") },
	})

	require.NoError(t, w.WaitStarted(context.Background(), time.Minute))
	require.True(t, w.Started())
}

func TestStop_NoopBeforeStart(t *testing.T) {
	stopped := false
	api := &fakeDeployAPI{
		stopDeployment: func(*codedeploy.StopDeploymentInput) (*codedeploy.StopDeploymentOutput, error) {
			stopped = true
			return &codedeploy.StopDeploymentOutput{}, nil
		},
	}

	w := New(api, Options{DeploymentID: "d-123", Out: &bytes.Buffer{}})
	require.NoError(t, w.Stop(context.Background()))
	require.False(t, stopped)
}

func TestStop_RequestsRollback(t *testing.T) {
	var stopInput *codedeploy.StopDeploymentInput
	script := &pollScript{
		polls: []scriptedPoll{
			{deployment: deploymentOutput(types.DeploymentStatusInProgress, nil)},
		},
		listErr: &types.DeploymentNotStartedException{Message: aws.String("deployment not started")},
	}
	api := script.api()
	api.stopDeployment = func(in *codedeploy.StopDeploymentInput) (*codedeploy.StopDeploymentOutput, error) {
		stopInput = in
		return &codedeploy.StopDeploymentOutput{}, nil
	}

	w := New(api, Options{DeploymentID: "d-123", Out: &bytes.Buffer{}})

	ctx := context.Background()
	_, err := w.RefreshOnce(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Stop(ctx))

	require.NotNil(t, stopInput)
	require.Equal(t, "d-123", aws.ToString(stopInput.DeploymentId))
	require.True(t, aws.ToBool(stopInput.AutoRollbackEnabled))
}

func TestShowOnce_BoundsWindowAndActivatesAllTargets(t *testing.T) {
	complete := base.Add(time.Minute)
	script := &pollScript{polls: []scriptedPoll{
		{
			deployment: deploymentOutput(types.DeploymentStatusSucceeded, aws.Time(complete)),
			targets: []types.DeploymentTarget{
				instanceTarget("i-1", types.TargetStatusSucceeded, base.Add(time.Second)),
				instanceTarget("i-2", types.TargetStatusSkipped, base.Add(time.Second)),
			},
		},
	}}

	tailer := &fakeTailer{}
	w := New(script.api(), Options{
		DeploymentID: "d-123",
		LogGroups:    []string{"deploy-logs"},
		Logs:         tailer,
		Out:          &bytes.Buffer{},
	})

	require.NoError(t, w.ShowOnce(context.Background(), time.Time{}, time.Time{}))
	require.Equal(t, base.Add(time.Second), tailer.rangeStart) // deployment start time
	require.Equal(t, complete, tailer.rangeEnd)
	require.ElementsMatch(t, []string{"deploy-logs/i-1", "deploy-logs/i-2"}, tailer.added)
}
