package watcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
)

const timeLayout = "2006-01-02 15:04:05"

// renderLifecycleEvents prints one line per event, ordered by
// (time, target id, event name). Rendering holds no state between calls; the
// dedup cache and watermark already guarantee each line appears once across
// the union of all calls.
func (w *Watcher) renderLifecycleEvents(events []lifecycleRecord) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Time.Equal(events[j].Time) {
			return events[i].Time.Before(events[j].Time)
		}
		if events[i].TargetID != events[j].TargetID {
			return events[i].TargetID < events[j].TargetID
		}
		return aws.ToString(events[i].Event.LifecycleEventName) <
			aws.ToString(events[j].Event.LifecycleEventName)
	})

	for _, e := range events {
		status := string(e.Event.Status)
		msg := ""
		if e.Event.Diagnostics != nil {
			msg = aws.ToString(e.Event.Diagnostics.Message)
		}
		// CodeDeploy often repeats the status as the diagnostic message;
		// drop the noise.
		if msg == status {
			msg = ""
		}
		if msg != "" {
			msg = "- " + msg
		}
		fmt.Fprintf(w.out, "%s (%s): [%s] %s: %s %s\n",
			w.deploymentID,
			e.TargetID,
			e.Time.Format(timeLayout),
			aws.ToString(e.Event.LifecycleEventName),
			status,
			msg)
	}
}

// renderLogRecords drains the log tailer and prints one line per record,
// ordered by (time, group). The stream name is the target id that produced
// the record.
func (w *Watcher) renderLogRecords(ctx context.Context) error {
	entries, err := w.logs.Follow(ctx)
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Time.Equal(entries[j].Time) {
			return entries[i].Time.Before(entries[j].Time)
		}
		return entries[i].Group < entries[j].Group
	})

	for _, e := range entries {
		fmt.Fprintf(w.out, "%s (%s): [%s] %s\n",
			w.deploymentID, e.Stream, e.Time.Format(timeLayout), e.Message)
	}
	return nil
}
