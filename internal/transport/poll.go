package transport

import (
	"context"
	"errors"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/api"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/rs/zerolog/log"
)

// Default polling settings.
const (
	DefaultPollInterval = 2000 * time.Millisecond
	DefaultPollTimeout  = 120 * time.Second
	DefaultMaxFailures  = 3
)

// StatusFetcher fetches the current job status.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (*api.JobStatus, error)
}

// PollConfig controls the polling loop.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// MaxFailures is how many consecutive retryable failures are tolerated.
	// The next one ends polling.
	MaxFailures int
}

// DefaultPollConfig returns the standard polling settings.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    DefaultPollInterval,
		Timeout:     DefaultPollTimeout,
		MaxFailures: DefaultMaxFailures,
	}
}

func (c PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	return c
}

// Poller polls the job status endpoint. Each Run is a single sequential
// loop, so a poll never starts while another is outstanding; ticks that
// fire during a slow request are dropped.
type Poller struct {
	fetcher StatusFetcher
	cfg     PollConfig
}

// NewPoller creates a Poller. Zero config fields take the defaults.
func NewPoller(fetcher StatusFetcher, cfg PollConfig) *Poller {
	return &Poller{fetcher: fetcher, cfg: cfg.withDefaults()}
}

func (p *Poller) Name() string { return "polling" }

func (p *Poller) Run(ctx context.Context, job scan.Job, emit Emit) error {
	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	stages := NewStageFilter()
	failures := 0
	start := time.Now()

	for {
		done, err := p.poll(pctx, job, emit, stages)
		switch {
		case err == nil:
			failures = 0
			if done {
				log.Debug().Str("jobId", job.ID).Dur("elapsed", time.Since(start)).Msg("Polling finished")
				return nil
			}
		case pctx.Err() != nil:
			// fall through to the deadline check below
		default:
			classified := scanerr.ClassifyError(err)
			if !classified.Category.Retryable() {
				return &scanerr.TransportError{Transport: p.Name(), JobID: job.ID, Err: err}
			}
			failures++
			if failures > p.cfg.MaxFailures {
				log.Error().Err(err).Str("jobId", job.ID).Int("failures", failures).Msg("Polling gave up after consecutive failures")
				return &scanerr.TransportError{Transport: p.Name(), JobID: job.ID, Err: err}
			}
			log.Warn().
				Err(err).
				Str("jobId", job.ID).
				Str("category", classified.Category.String()).
				Int("failures", failures).
				Msg("Status poll failed, retrying")
		}

		select {
		case <-pctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &scanerr.TimeoutError{JobID: job.ID, Timeout: p.cfg.Timeout}
		case <-ticker.C:
		}
	}
}

// poll performs one status request and emits what it learned. done is true
// once a terminal message has been emitted.
func (p *Poller) poll(ctx context.Context, job scan.Job, emit Emit, stages *StageFilter) (done bool, err error) {
	st, err := p.fetcher.JobStatus(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, errors.New("empty status response")
	}

	now := time.Now()
	emitStages := func() {
		for _, s := range st.Stages {
			if !stages.Fresh(s.Stage, s.Status, s.Data) {
				continue
			}
			emit(Message{Type: TypeStageUpdate, Stage: s.Stage, Status: s.Status, Data: s.Data, Timestamp: now})
		}
	}

	switch st.Status {
	case "completed", "complete", "succeeded", "done":
		emitStages()
		emit(Message{Type: TypeCompleted, Result: st.Result, Timestamp: now})
		return true, nil
	case "failed", "error":
		emitStages()
		msg := st.Error
		if msg == "" {
			msg = "analysis failed"
		}
		emit(Message{Type: TypeFailed, Error: msg, Timestamp: now})
		return true, nil
	case "pending", "queued", "":
		return false, nil
	case "processing", "running", "in_progress":
		emitStages()
		return false, nil
	default:
		log.Warn().Str("jobId", job.ID).Str("status", st.Status).Msg("Unknown job status")
		emitStages()
		return false, nil
	}
}
