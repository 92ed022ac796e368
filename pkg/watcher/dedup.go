package watcher

import (
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
)

// lifecycleRecord is a lifecycle event paired with its render sort key.
type lifecycleRecord struct {
	Time     time.Time
	TargetID string
	Event    types.LifecycleEvent
}

// diffLifecycleEvents emits only events that are new or whose value changed
// since they were last seen for this target, updating the seen-cache as it
// goes. Identity is (target id, event name); "changed" is full-value
// inequality, so a differing value for a known name is simply a new, later
// event.
func (w *Watcher) diffLifecycleEvents(targetID string, events []types.LifecycleEvent) []lifecycleRecord {
	seen := w.seen[targetID]
	if seen == nil {
		seen = map[string]types.LifecycleEvent{}
		w.seen[targetID] = seen
	}

	var fresh []lifecycleRecord
	for _, ev := range events {
		name := aws.ToString(ev.LifecycleEventName)
		if prev, ok := seen[name]; ok && reflect.DeepEqual(ev, prev) {
			continue
		}
		fresh = append(fresh, lifecycleRecord{
			Time:     w.assignEventTime(ev),
			TargetID: targetID,
			Event:    ev,
		})
		seen[name] = ev
	}
	return fresh
}

// assignEventTime gives every event a usable sort key even when the upstream
// record is incomplete: end time, else start time, else the deployment's
// completion time, else now.
func (w *Watcher) assignEventTime(ev types.LifecycleEvent) time.Time {
	switch {
	case ev.EndTime != nil:
		return *ev.EndTime
	case ev.StartTime != nil:
		return *ev.StartTime
	case !w.completeTime.IsZero():
		return w.completeTime
	default:
		return w.now()
	}
}
