package main

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/jobs"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// Job statuses reported by the polling endpoint.
const (
	statusPending    = "pending"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

// frame is one stream event, in the order it happened. Stream handlers
// replay the log from the start so a late subscriber sees every stage.
type frame struct {
	Type      string           `json:"type"`
	Stage     scan.Stage       `json:"stage,omitempty"`
	Status    scan.StageStatus `json:"status,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *frameError      `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f frame) terminal() bool {
	return f.Type == "job_completed" || f.Type == "job_failed"
}

type stageState struct {
	Stage  scan.Stage       `json:"stage"`
	Status scan.StageStatus `json:"status"`
	Data   map[string]any   `json:"data,omitempty"`
}

type scanJob struct {
	mu       sync.Mutex
	id       string
	filename string
	image    []byte
	mimeType string
	status   string
	stages   []stageState
	result   json.RawMessage
	errMsg   string
	frames   []frame
	// changed is closed and replaced on every update.
	changed chan struct{}
}

type jobStore struct {
	mu   sync.Mutex
	jobs map[string]*scanJob
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*scanJob)}
}

func (s *jobStore) create(filename, mimeType string, image []byte) *scanJob {
	j := &scanJob{
		id:       jobs.NewID("scan-"),
		filename: filename,
		image:    image,
		mimeType: mimeType,
		status:   statusPending,
		changed:  make(chan struct{}),
	}
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()
	return j
}

func (s *jobStore) get(id string) *scanJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// publish appends f, applies its effect on the job snapshot and wakes
// every subscriber. Nothing is published after a terminal frame.
func (j *scanJob) publish(f frame) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == statusCompleted || j.status == statusFailed {
		return
	}
	f.Timestamp = time.Now().UTC()

	switch f.Type {
	case "stage_update":
		j.status = statusProcessing
		j.setStage(stageState{Stage: f.Stage, Status: f.Status, Data: f.Data})
	case "job_completed":
		j.status = statusCompleted
		j.result = f.Result
	case "job_failed":
		j.status = statusFailed
		if f.Error != nil {
			j.errMsg = f.Error.Message
		}
	}
	if f.terminal() {
		j.image = nil
	}
	j.frames = append(j.frames, f)
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *scanJob) setStage(st stageState) {
	for i := range j.stages {
		if j.stages[i].Stage == st.Stage {
			j.stages[i] = st
			return
		}
	}
	j.stages = append(j.stages, st)
}

// framesSince returns the frames after index from and a channel that is
// closed on the next update.
func (j *scanJob) framesSince(from int) ([]frame, <-chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []frame
	if from < len(j.frames) {
		out = append(out, j.frames[from:]...)
	}
	return out, j.changed
}

// input returns the uploaded image for analysis.
func (j *scanJob) input() (filename, mimeType string, data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filename, j.mimeType, j.image
}

// statusView is the polling response body.
type statusView struct {
	JobID  string          `json:"jobId"`
	Status string          `json:"status"`
	Stages []stageState    `json:"stages"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (j *scanJob) view() statusView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return statusView{
		JobID:  j.id,
		Status: j.status,
		Stages: append([]stageState(nil), j.stages...),
		Result: j.result,
		Error:  j.errMsg,
	}
}
