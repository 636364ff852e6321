package jobs

import (
	"context"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/metrics"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/progress"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/transform"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/transport"
	"github.com/rs/zerolog/log"
)

// EventKind identifies a tracking event.
type EventKind int

const (
	EventStage EventKind = iota + 1
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStage:
		return "stage"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one update for the caller. Stage is set for EventStage, Result
// for EventCompleted and Failure for EventFailed. Progress is the display
// percentage: non-decreasing, and 100 only on completion.
type Event struct {
	Kind     EventKind
	Stage    *scan.StageEvent
	Progress int
	Result   scan.Result
	Failure  *scanerr.UserFacingError
}

// Tracking is a running job follow-up. Events are delivered on an
// unbuffered channel that is closed when the tracking ends; at most one
// terminal event (completed or failed) is sent.
type Tracking struct {
	Job scan.Job

	o      *Orchestrator
	gen    uint64
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the event channel.
func (t *Tracking) Events() <-chan Event { return t.events }

// Done is closed once the tracking goroutine has exited.
func (t *Tracking) Done() <-chan struct{} { return t.done }

// Cancel stops the tracking and waits for it to exit. It may be called any
// number of times, from any goroutine, including from an event consumer.
// No event is delivered after it returns.
func (t *Tracking) Cancel() {
	t.cancel()
	<-t.done
}

// runState is owned by the tracking goroutine.
type runState struct {
	model       *progress.Model
	filter      *transport.StageFilter
	terminal    bool
	stages      int
	transport   string
	fallbacks   int
	outcome     State
	errCategory string
}

func (t *Tracking) run(ctx context.Context, stream transport.Transport) {
	start := time.Now()
	rs := &runState{
		model:   progress.New(),
		filter:  transport.NewStageFilter(),
		outcome: StateCancelled,
	}
	defer func() {
		t.o.release(t)
		close(t.events)
		t.record(rs, time.Since(start))
		close(t.done)
	}()

	emit := func(m transport.Message) { t.handle(ctx, rs, m) }

	if stream != nil {
		rs.transport = stream.Name()
		err := stream.Run(ctx, t.Job, emit)
		if rs.terminal || ctx.Err() != nil {
			t.finish(rs)
			return
		}
		rs.fallbacks++
		log.Warn().
			Err(err).
			Str("jobId", t.Job.ID).
			Str("transport", stream.Name()).
			Msg("Stream failed, falling back to polling")
		if !t.o.transition(t.gen, StatePolling) {
			return
		}
	}

	poller := transport.NewPoller(t.o.backend, t.o.opts.Poll)
	rs.transport = poller.Name()
	err := poller.Run(ctx, t.Job, emit)
	if rs.terminal || ctx.Err() != nil {
		t.finish(rs)
		return
	}

	failure := scanerr.ClassifyError(err)
	log.Error().
		Err(err).
		Str("jobId", t.Job.ID).
		Str("category", failure.Category.String()).
		Msg("Scan job failed")
	t.deliverTerminal(ctx, rs, Event{Kind: EventFailed, Progress: rs.model.Display(), Failure: failure}, StateFailed)
	t.finish(rs)
}

// finish records a cancellation when no terminal event went out.
func (t *Tracking) finish(rs *runState) {
	if rs.terminal {
		return
	}
	rs.outcome = StateCancelled
	t.o.transition(t.gen, StateCancelled)
	log.Info().Str("jobId", t.Job.ID).Msg("Scan tracking cancelled")
}

// handle converts one transport message into an event. It runs on the
// transport's goroutine, which is the tracking goroutine.
func (t *Tracking) handle(ctx context.Context, rs *runState, m transport.Message) {
	if rs.terminal {
		return
	}
	switch m.Type {
	case transport.TypeStageUpdate:
		// Exact repeats are dropped, as when polling replays what the
		// stream already delivered. New data for a stage overwrites it.
		if !rs.filter.Fresh(m.Stage, m.Status, m.Data) {
			return
		}
		rs.model.RecordStage(m.Stage, m.Data, m.Status)
		rs.stages++
		ev := &scan.StageEvent{Stage: m.Stage, Status: m.Status, Data: m.Data, Timestamp: m.Timestamp}
		t.send(ctx, Event{Kind: EventStage, Stage: ev, Progress: rs.model.Display()})

	case transport.TypeCompleted:
		result, err := transform.Transform(m.Result, t.Job.ImageRef, t.Job.ID)
		if err != nil {
			failure := scanerr.ClassifyError(err)
			log.Error().Err(err).Str("jobId", t.Job.ID).Msg("Could not transform scan result")
			t.deliverTerminal(ctx, rs, Event{Kind: EventFailed, Progress: rs.model.Display(), Failure: failure}, StateFailed)
			return
		}
		t.deliverTerminal(ctx, rs, Event{Kind: EventCompleted, Progress: progress.Complete, Result: result}, StateCompleted)

	case transport.TypeFailed:
		failure := scanerr.Classify(0, m.Error)
		log.Warn().Str("jobId", t.Job.ID).Str("error", m.Error).Msg("Server reported job failure")
		t.deliverTerminal(ctx, rs, Event{Kind: EventFailed, Progress: rs.model.Display(), Failure: failure}, StateFailed)
	}
}

// deliverTerminal sends the final event. The state moves first so a caller
// reacting to the event already observes the terminal state.
func (t *Tracking) deliverTerminal(ctx context.Context, rs *runState, ev Event, s State) {
	if ctx.Err() != nil {
		return
	}
	if !t.o.transition(t.gen, s) {
		return
	}
	rs.terminal = true
	rs.outcome = s
	if ev.Failure != nil {
		rs.errCategory = ev.Failure.Category.String()
	}
	t.send(ctx, ev)
}

// send delivers ev unless the tracking has been cancelled.
func (t *Tracking) send(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Tracking) record(rs *runState, elapsed time.Duration) {
	rec := t.o.opts.Metrics.New().
		Dimension("Transport", rs.transport).
		Dimension("Outcome", rs.outcome.String()).
		Count("ScanJobs").
		Metric("DurationMs", durationMs(elapsed), metrics.UnitMilliseconds).
		Metric("Fallbacks", float64(rs.fallbacks), metrics.UnitCount).
		Metric("StageEvents", float64(rs.stages), metrics.UnitCount).
		Property("jobId", t.Job.ID)
	if rs.errCategory != "" {
		rec.Property("errorCategory", rs.errCategory)
	}
	rec.Flush()

	log.Debug().
		Str("jobId", t.Job.ID).
		Str("transport", rs.transport).
		Str("outcome", rs.outcome.String()).
		Int("fallbacks", rs.fallbacks).
		Dur("elapsed", elapsed).
		Msg("Scan tracking finished")
}
