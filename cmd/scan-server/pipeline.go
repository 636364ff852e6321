package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/rs/zerolog/log"
)

// Failure codes reported in job_failed frames.
const (
	codeInvalidImage   = "INVALID_IMAGE"
	codeAnalysisFailed = "ANALYSIS_FAILED"
	codeCancelled      = "CANCELLED"
)

// runPipeline walks the job through every stage. The image is analyzed
// during extraction; the later stages only report progress.
func runPipeline(ctx context.Context, job *scanJob, analyzer Analyzer, archive Archiver, delay time.Duration) {
	start := time.Now()
	filename, _, data := job.input()

	stageStart := func(st scan.Stage) {
		job.publish(frame{Type: "stage_update", Stage: st, Status: scan.StatusProcessing})
	}
	stageDone := func(st scan.Stage, d map[string]any) {
		job.publish(frame{Type: "stage_update", Stage: st, Status: scan.StatusCompleted, Data: d})
	}
	fail := func(st scan.Stage, code, msg string) {
		job.publish(frame{Type: "stage_update", Stage: st, Status: scan.StatusFailed})
		job.publish(frame{Type: "job_failed", Error: &frameError{Code: code, Message: msg}})
		log.Warn().Str("jobId", job.id).Str("stage", string(st)).Str("code", code).Msg(msg)
	}
	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
			return true
		}
	}
	cancelled := func(st scan.Stage) {
		fail(st, codeCancelled, "server shutting down")
	}

	stageStart(scan.StageValidation)
	img, err := imageprep.PrepareBytes(filename, data, imageprep.DefaultMaxDimension)
	if err != nil {
		fail(scan.StageValidation, codeInvalidImage, "The image could not be read. Try a clearer JPEG or PNG photo.")
		return
	}
	// A failed archive is logged and the scan carries on.
	if archive != nil {
		if err := archive.Archive(ctx, job.id, img); err != nil {
			log.Warn().Err(err).Str("jobId", job.id).Msg("Could not archive upload")
		}
	}
	if !wait() {
		cancelled(scan.StageValidation)
		return
	}
	stageDone(scan.StageValidation, map[string]any{"width": img.Width, "height": img.Height, "resized": img.Resized})

	stageStart(scan.StageExtraction)
	raw, err := analyzer.Analyze(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			cancelled(scan.StageExtraction)
			return
		}
		log.Error().Err(err).Str("jobId", job.id).Msg("Analysis failed")
		fail(scan.StageExtraction, codeAnalysisFailed, "We could not analyze this image. Please try again.")
		return
	}
	stageDone(scan.StageExtraction, summarize(raw))

	for _, st := range scan.Stages[2:] {
		stageStart(st)
		if !wait() {
			cancelled(st)
			return
		}
		stageDone(st, nil)
	}

	job.publish(frame{Type: "job_completed", Result: raw})
	log.Info().
		Str("jobId", job.id).
		Dur("duration", time.Since(start)).
		Msg("Scan job completed")
}

// summarize reports the item count and extraction quality, when present.
func summarize(raw json.RawMessage) map[string]any {
	var body struct {
		Menu *struct {
			TotalItems int `json:"totalItems"`
		} `json:"menu"`
		Extraction *struct {
			Quality string `json:"quality"`
		} `json:"extraction"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	out := map[string]any{}
	if body.Menu != nil {
		out["itemsFound"] = body.Menu.TotalItems
	}
	if body.Extraction != nil && body.Extraction.Quality != "" {
		out["quality"] = body.Extraction.Quality
	}
	return out
}
