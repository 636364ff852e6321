// Package jobs runs one scan job at a time: it uploads the image, follows
// the job over a stream or by polling, and delivers typed events to the
// caller until the job completes, fails, or is cancelled.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/api"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/metrics"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/transport"
	"github.com/rs/zerolog/log"
)

// Backend is the part of the scan API the orchestrator needs.
// *api.Client satisfies it.
type Backend interface {
	Upload(ctx context.Context, filename string, data []byte, contentType string) (*api.UploadResult, error)
	JobStatus(ctx context.Context, jobID string) (*api.JobStatus, error)
	AuthHeader(ctx context.Context) (http.Header, error)
}

// Options configures an Orchestrator. The zero value streams when possible
// and polls with the default settings.
type Options struct {
	Poll          transport.PollConfig
	DisableStream bool
	// MaxImageDimension bounds the uploaded image; 0 uses the default.
	MaxImageDimension int
	// Metrics receives one record per tracked job. Nil disables telemetry.
	Metrics *metrics.Sink

	// StreamFor picks the streaming transport for a stream address.
	// Defaults to transport.ForAddress.
	StreamFor func(addr string, headers transport.HeaderFunc) transport.Transport
	// Prepare loads and prepares an image. Defaults to imageprep.Prepare.
	Prepare func(path string, maxDim int) (*imageprep.Image, error)
}

// Orchestrator owns the single active scan job.
type Orchestrator struct {
	backend Backend
	opts    Options

	mu     sync.Mutex
	state  State
	gen    uint64
	active *Tracking
}

// New creates an Orchestrator.
func New(backend Backend, opts Options) *Orchestrator {
	if opts.StreamFor == nil {
		opts.StreamFor = transport.ForAddress
	}
	if opts.Prepare == nil {
		opts.Prepare = imageprep.Prepare
	}
	return &Orchestrator{backend: backend, opts: opts}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Submit prepares and uploads the image at imageRef and returns the accepted
// job. Any active tracking is cancelled first. Failures before a job exists
// are returned as *scanerr.UploadError wrapping the user-facing error.
func (o *Orchestrator) Submit(ctx context.Context, imageRef string) (scan.Job, error) {
	if strings.TrimSpace(imageRef) == "" {
		return scan.Job{}, &scanerr.UploadError{Message: "no image selected"}
	}

	o.stopActive()
	gen := o.begin(StateUploading)

	img, err := o.opts.Prepare(imageRef, o.opts.MaxImageDimension)
	if err != nil {
		o.transition(gen, StateFailed)
		return scan.Job{}, &scanerr.UploadError{Message: "could not read image", Err: err}
	}

	res, err := o.backend.Upload(ctx, img.Filename, img.Data, img.ContentType)
	if err != nil {
		if ctx.Err() != nil {
			o.transition(gen, StateCancelled)
			return scan.Job{}, ctx.Err()
		}
		o.transition(gen, StateFailed)
		classified := scanerr.ClassifyError(err)
		log.Error().Err(err).Str("category", classified.Category.String()).Msg("Upload failed")
		return scan.Job{}, &scanerr.UploadError{Message: classified.Message, Err: classified}
	}
	if res.JobID == "" {
		o.transition(gen, StateFailed)
		return scan.Job{}, &scanerr.UploadError{Message: "server did not return a job"}
	}

	o.transition(gen, StateIdle)
	return scan.Job{ID: res.JobID, StreamAddress: res.StreamURL, ImageRef: imageRef}, nil
}

// Scan submits imageRef and starts tracking the resulting job.
func (o *Orchestrator) Scan(ctx context.Context, imageRef string) (*Tracking, error) {
	job, err := o.Submit(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	return o.Track(ctx, job), nil
}

// Track starts following job. Any prior tracking is cancelled and has
// exited before the new one starts, so only one transport runs at a time.
// The tracking ends when ctx is done, when Cancel is called, or after the
// terminal event is delivered.
func (o *Orchestrator) Track(ctx context.Context, job scan.Job) *Tracking {
	o.stopActive()

	stream := o.streamFor(job)
	first := StatePolling
	if stream != nil {
		first = StateStreaming
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Tracking{
		Job:    job,
		o:      o,
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	o.mu.Lock()
	// Another Track may have started between stopActive and here.
	for o.active != nil {
		prev := o.active
		o.mu.Unlock()
		prev.Cancel()
		o.mu.Lock()
	}
	o.gen++
	t.gen = o.gen
	o.state = first
	o.active = t
	o.mu.Unlock()

	log.Info().Str("jobId", job.ID).Str("state", first.String()).Msg("Tracking scan job")
	go t.run(tctx, stream)
	return t
}

// Cancel stops the active tracking, if any. It is safe in any state.
func (o *Orchestrator) Cancel() {
	o.stopActive()
}

func (o *Orchestrator) stopActive() {
	o.mu.Lock()
	prev := o.active
	o.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}

func (o *Orchestrator) streamFor(job scan.Job) transport.Transport {
	if o.opts.DisableStream || job.StreamAddress == "" {
		return nil
	}
	return o.opts.StreamFor(job.StreamAddress, o.backend.AuthHeader)
}

// begin starts a new generation in state s. Transitions from older
// generations are ignored from here on.
func (o *Orchestrator) begin(s State) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.state = s
	return o.gen
}

// transition moves to s if gen is current and the move is allowed.
func (o *Orchestrator) transition(gen uint64, s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	if !canTransition(o.state, s) {
		log.Debug().Str("from", o.state.String()).Str("to", s.String()).Msg("Ignoring invalid state transition")
		return false
	}
	o.state = s
	return true
}

// release clears t as the active tracking.
func (o *Orchestrator) release(t *Tracking) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == t {
		o.active = nil
	}
}

// ErrCancelled is returned by Dispatch when the tracking ended without a
// terminal event.
var ErrCancelled = errors.New("scan cancelled")

// Handlers is the callback form of the event channel.
type Handlers struct {
	OnStage    func(ev scan.StageEvent, progress int)
	OnComplete func(result scan.Result)
	OnFailed   func(failure *scanerr.UserFacingError)
}

// Dispatch reads t's events and calls the matching handler until the
// tracking ends. Nil handlers are skipped. If ctx ends first, the tracking
// is cancelled. It returns nil after a terminal event and ErrCancelled or
// ctx.Err() otherwise.
func Dispatch(ctx context.Context, t *Tracking, h Handlers) error {
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrCancelled
			}
			switch ev.Kind {
			case EventStage:
				if h.OnStage != nil && ev.Stage != nil {
					h.OnStage(*ev.Stage, ev.Progress)
				}
			case EventCompleted:
				if h.OnComplete != nil {
					h.OnComplete(ev.Result)
				}
				return nil
			case EventFailed:
				if h.OnFailed != nil {
					h.OnFailed(ev.Failure)
				}
				return nil
			default:
				return fmt.Errorf("unexpected event kind %d", ev.Kind)
			}
		case <-ctx.Done():
			t.Cancel()
			return ctx.Err()
		}
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
