// Package logtail polls CloudWatch log streams on behalf of a caller that
// controls the cadence: streams are registered and unregistered over time, and
// each Follow call returns whatever new records arrived since the last one.
package logtail

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFetches bounds the number of in-flight GetLogEvents calls.
const maxConcurrentFetches = 4

// Entry is one log record pulled from a stream.
type Entry struct {
	Time    time.Time
	Group   string
	Stream  string
	Message string
}

type API interface {
	GetLogEvents(ctx context.Context, params *cloudwatchlogs.GetLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetLogEventsOutput, error)
}

type streamKey struct {
	group  string
	stream string
}

type cursor struct {
	group    string
	stream   string
	readFrom time.Time
	token    *string // CloudWatch forward token; nil until the first page
}

// Tailer tracks a set of (log group, log stream) subscriptions with a forward
// cursor each. Not safe for concurrent use; the watcher drives it from a
// single goroutine.
type Tailer struct {
	api     API
	streams map[streamKey]*cursor
	start   time.Time // zero means unbounded
	end     time.Time
}

func New(api API) *Tailer {
	return &Tailer{
		api:     api,
		streams: map[streamKey]*cursor{},
	}
}

// AddStream registers a stream for polling. Re-adding an already-tracked
// stream never duplicates it; at most it widens the read window backwards,
// and only while no records have been pulled yet.
func (t *Tailer) AddStream(group, stream string, from time.Time) {
	k := streamKey{group: group, stream: stream}
	if c, ok := t.streams[k]; ok {
		if c.token == nil && !from.IsZero() && (c.readFrom.IsZero() || from.Before(c.readFrom)) {
			c.readFrom = from
		}
		return
	}
	t.streams[k] = &cursor{group: group, stream: stream, readFrom: from}
}

func (t *Tailer) RemoveStream(group, stream string) {
	delete(t.streams, streamKey{group: group, stream: stream})
}

// SetTimeRange bounds every subsequent fetch. A zero end leaves the window
// open-ended.
func (t *Tailer) SetTimeRange(start, end time.Time) {
	t.start = start
	t.end = end
}

// Follow pulls all records newly available across the tracked streams since
// the previous call. Streams that do not exist yet are skipped; they usually
// appear once the target starts writing.
func (t *Tailer) Follow(ctx context.Context) ([]Entry, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	var mu sync.Mutex
	var entries []Entry
	for _, c := range t.streams {
		c := c
		g.Go(func() error {
			es, err := t.fetch(ctx, c)
			if err != nil {
				return err
			}
			mu.Lock()
			entries = append(entries, es...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *Tailer) fetch(ctx context.Context, c *cursor) ([]Entry, error) {
	// GetLogEvents requires StartFromHead=true whenever a forward token is
	// passed back in; every read here is a forward read, so set it always.
	in := &cloudwatchlogs.GetLogEventsInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
		StartFromHead: aws.Bool(true),
	}
	if c.token != nil {
		in.NextToken = c.token
	}
	if from := t.effectiveStart(c); !from.IsZero() {
		in.StartTime = aws.Int64(from.UnixMilli())
	}
	if !t.end.IsZero() {
		in.EndTime = aws.Int64(t.end.UnixMilli())
	}

	var out []Entry
	for {
		resp, err := t.api.GetLogEvents(ctx, in)
		if err != nil {
			var notFound *logtypes.ResourceNotFoundException
			if errors.As(err, &notFound) {
				log.Debug().Str("group", c.group).Str("stream", c.stream).
					Msg("log stream not available yet")
				return out, nil
			}
			return nil, errors.Wrapf(err, "get log events %s/%s", c.group, c.stream)
		}

		for _, ev := range resp.Events {
			if ev.Timestamp == nil || ev.Message == nil {
				continue
			}
			out = append(out, Entry{
				Time:    time.UnixMilli(*ev.Timestamp).UTC(),
				Group:   c.group,
				Stream:  c.stream,
				Message: *ev.Message,
			})
		}

		// The forward token stops changing once the stream is exhausted.
		exhausted := resp.NextForwardToken == nil ||
			(in.NextToken != nil && *in.NextToken == *resp.NextForwardToken)
		c.token = resp.NextForwardToken
		if exhausted || len(resp.Events) == 0 {
			return out, nil
		}
		in.NextToken = resp.NextForwardToken
	}
}

func (t *Tailer) effectiveStart(c *cursor) time.Time {
	from := c.readFrom
	if from.IsZero() || (!t.start.IsZero() && t.start.After(from)) {
		from = t.start
	}
	return from
}
