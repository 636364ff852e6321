package metrics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/rs/zerolog/log"
)

// CloudWatchPrefix marks a metrics destination as a CloudWatch Logs
// group, e.g. "cloudwatch:/tastebuddy/metrics/cli".
const CloudWatchPrefix = "cloudwatch:"

// PutLogEvents accepts at most this many events per call.
const maxBatchEvents = 10000

// LogsAPI is the part of the CloudWatch Logs client the writer uses.
type LogsAPI interface {
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// ParseCloudWatchDest splits "cloudwatch:<group>/<stream>" at the last
// slash. A destination without a stream uses defaultStream.
func ParseCloudWatchDest(dest, defaultStream string) (group, stream string, ok bool) {
	rest, ok := strings.CutPrefix(dest, CloudWatchPrefix)
	if !ok || rest == "" {
		return "", "", false
	}
	if i := strings.LastIndex(rest, "/"); i > 0 && i < len(rest)-1 {
		return rest[:i], rest[i+1:], true
	}
	return strings.TrimSuffix(rest, "/"), defaultStream, true
}

// CloudWatchWriter buffers EMF lines and ships them to a log stream on
// Close. CloudWatch extracts the metrics from the log events.
type CloudWatchWriter struct {
	client LogsAPI
	group  string
	stream string
	now    func() time.Time

	mu     sync.Mutex
	events []types.InputLogEvent
	closed bool
}

// NewCloudWatchWriter creates a writer for group/stream.
func NewCloudWatchWriter(client LogsAPI, group, stream string) *CloudWatchWriter {
	return &CloudWatchWriter{client: client, group: group, stream: stream, now: time.Now}
}

// Write records each newline-terminated line in p as one log event.
func (w *CloudWatchWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errors.New("metrics writer closed")
	}
	ts := w.now().UnixMilli()
	for _, line := range bytes.Split(p, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		w.events = append(w.events, types.InputLogEvent{
			Message:   aws.String(string(line)),
			Timestamp: aws.Int64(ts),
		})
	}
	return len(p), nil
}

// Close creates the stream if needed and uploads the buffered events.
func (w *CloudWatchWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.events) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := w.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(w.group),
		LogStreamName: aws.String(w.stream),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("create log stream %s/%s: %w", w.group, w.stream, err)
	}

	for i := 0; i < len(w.events); i += maxBatchEvents {
		end := min(i+maxBatchEvents, len(w.events))
		_, err := w.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(w.group),
			LogStreamName: aws.String(w.stream),
			LogEvents:     w.events[i:end],
		})
		if err != nil {
			return fmt.Errorf("put %d log events: %w", end-i, err)
		}
	}
	log.Debug().
		Str("group", w.group).
		Str("stream", w.stream).
		Int("events", len(w.events)).
		Msg("Metrics shipped to CloudWatch Logs")
	w.events = nil
	return nil
}
