package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// UploadResult is the normalized upload response.
type UploadResult struct {
	JobID     string
	StreamURL string
	Message   string
}

// uploadResponse covers the three shapes the backend has used:
//
//	{"success": true, "data": {"jobId": "...", "streamUrl": "..."}}
//	{"message": "...", "jobId": "...", "streamUrl": "..."}
//	{"jobId": "...", "streamUrl": "..."}
type uploadResponse struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    *struct {
		JobID     string `json:"jobId"`
		StreamURL string `json:"streamUrl"`
	} `json:"data"`
	JobID     string `json:"jobId"`
	StreamURL string `json:"streamUrl"`
}

func decodeUpload(body []byte) (*UploadResult, error) {
	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse upload response: %w (body: %s)", err, truncate(string(body), 200))
	}
	if resp.Success != nil && !*resp.Success {
		msg := firstNonEmpty(decodeErrorField(resp.Error), resp.Message, "server rejected the upload")
		return nil, fmt.Errorf("%s", msg)
	}

	out := &UploadResult{Message: resp.Message}
	switch {
	case resp.Data != nil && resp.Data.JobID != "":
		out.JobID, out.StreamURL = resp.Data.JobID, resp.Data.StreamURL
	default:
		out.JobID, out.StreamURL = resp.JobID, resp.StreamURL
	}
	if out.JobID == "" {
		return nil, fmt.Errorf("unexpected response: no jobId returned (body: %s)", truncate(string(body), 200))
	}
	return out, nil
}

// JobStatus is the normalized polling response.
type JobStatus struct {
	Status string
	// Stages holds every stage the response reported, in pipeline order.
	Stages []StageUpdate
	Result json.RawMessage
	Error  string
}

// StageUpdate is one stage entry from a status response.
type StageUpdate struct {
	Stage  scan.Stage
	Status scan.StageStatus
	Data   map[string]any
}

type statusResponse struct {
	Status string          `json:"status"`
	Stage  json.RawMessage `json:"stage"`
	Stages json.RawMessage `json:"stages"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Data   *statusResponse `json:"data"`
}

type stageObject struct {
	Name   string         `json:"name"`
	Stage  string         `json:"stage"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

func decodeStatus(body []byte) (*JobStatus, error) {
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse status response: %w (body: %s)", err, truncate(string(body), 200))
	}
	if resp.Status == "" && resp.Data != nil {
		resp = *resp.Data
	}

	out := &JobStatus{
		Status: strings.ToLower(strings.TrimSpace(resp.Status)),
		Error:  decodeErrorField(resp.Error),
	}
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		out.Result = resp.Result
	}

	stages := decodeStages(resp.Stages)
	if cur, ok := decodeCurrentStage(resp.Stage); ok {
		replaced := false
		for i := range stages {
			if stages[i].Stage == cur.Stage {
				stages[i] = cur
				replaced = true
			}
		}
		if !replaced {
			stages = append(stages, cur)
		}
	}
	sortStages(stages)
	out.Stages = stages
	return out, nil
}

// decodeStages accepts a map of stage name to {status, data} or a list of
// {stage|name, status, data}.
func decodeStages(raw json.RawMessage) []StageUpdate {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var out []StageUpdate
	if raw[0] == '{' {
		var m map[string]stageObject
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		for name, obj := range m {
			out = append(out, StageUpdate{Stage: scan.Stage(name), Status: stageStatus(obj.Status), Data: obj.Data})
		}
		return out
	}

	var list []stageObject
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	for _, obj := range list {
		name := firstNonEmpty(obj.Stage, obj.Name)
		if name == "" {
			continue
		}
		out = append(out, StageUpdate{Stage: scan.Stage(name), Status: stageStatus(obj.Status), Data: obj.Data})
	}
	return out
}

// decodeCurrentStage accepts "extraction" or {"name": "extraction", ...}.
func decodeCurrentStage(raw json.RawMessage) (StageUpdate, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return StageUpdate{}, false
	}
	if raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil || name == "" {
			return StageUpdate{}, false
		}
		return StageUpdate{Stage: scan.Stage(name), Status: scan.StatusProcessing}, true
	}
	var obj stageObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return StageUpdate{}, false
	}
	name := firstNonEmpty(obj.Name, obj.Stage)
	if name == "" {
		return StageUpdate{}, false
	}
	return StageUpdate{Stage: scan.Stage(name), Status: stageStatus(obj.Status), Data: obj.Data}, true
}

func decodeErrorField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func stageStatus(s string) scan.StageStatus {
	switch st := scan.StageStatus(strings.ToLower(s)); st {
	case scan.StatusPending, scan.StatusProcessing, scan.StatusCompleted, scan.StatusFailed:
		return st
	default:
		return scan.StatusProcessing
	}
}

func sortStages(stages []StageUpdate) {
	order := make(map[scan.Stage]int, len(scan.Stages))
	for i, s := range scan.Stages {
		order[s] = i
	}
	rank := func(s scan.Stage) int {
		if i, ok := order[s]; ok {
			return i
		}
		return len(order)
	}
	sort.SliceStable(stages, func(i, j int) bool {
		ri, rj := rank(stages[i].Stage), rank(stages[j].Stage)
		if ri != rj {
			return ri < rj
		}
		return stages[i].Stage < stages[j].Stage
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// extractErrorField pulls the "error" (or "message") member out of an error
// response body.
func extractErrorField(body []byte) json.RawMessage {
	var obj struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil
	}
	if len(obj.Error) > 0 {
		return obj.Error
	}
	if obj.Message != "" {
		b, _ := json.Marshal(obj.Message)
		return b
	}
	return nil
}
