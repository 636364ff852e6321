package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/api"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/jobs"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/transport"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		img.Set(x, x%30, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func startServer(t *testing.T, opts serverOptions) (*server, *httptest.Server) {
	t.Helper()
	if opts.StageDelay == 0 {
		opts.StageDelay = time.Millisecond
	}
	s := newServer(opts)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func upload(t *testing.T, baseURL, filename string, data []byte, token string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, baseURL+uploadPath, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

type uploadBody struct {
	Success bool `json:"success"`
	Data    struct {
		JobID     string `json:"jobId"`
		StreamURL string `json:"streamUrl"`
	} `json:"data"`
}

func waitForStatus(t *testing.T, baseURL, id string) statusView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + jobsPrefix + id)
		if err != nil {
			t.Fatal(err)
		}
		var v statusView
		json.NewDecoder(resp.Body).Decode(&v)
		resp.Body.Close()
		if v.Status == statusCompleted || v.Status == statusFailed {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return statusView{}
}

func TestUploadAndPoll(t *testing.T) {
	_, ts := startServer(t, serverOptions{})

	resp := upload(t, ts.URL, "menu.png", testPNG(t), "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var ub uploadBody
	if err := json.NewDecoder(resp.Body).Decode(&ub); err != nil {
		t.Fatal(err)
	}
	if !ub.Success || !strings.HasPrefix(ub.Data.JobID, "scan-") {
		t.Fatalf("upload body = %+v", ub)
	}
	if ub.Data.StreamURL != jobsPrefix+ub.Data.JobID+"/stream" {
		t.Errorf("streamUrl = %q", ub.Data.StreamURL)
	}

	v := waitForStatus(t, ts.URL, ub.Data.JobID)
	if v.Status != statusCompleted {
		t.Fatalf("status = %+v", v)
	}
	if len(v.Stages) != len(scan.Stages) {
		t.Errorf("got %d stages, want %d", len(v.Stages), len(scan.Stages))
	}
	for _, st := range v.Stages {
		if st.Status != scan.StatusCompleted {
			t.Errorf("stage %s = %s", st.Stage, st.Status)
		}
	}
	if len(v.Result) == 0 || !json.Valid(v.Result) {
		t.Errorf("result = %s", v.Result)
	}
}

func TestUploadRejects(t *testing.T) {
	_, ts := startServer(t, serverOptions{Token: "secret"})

	tests := []struct {
		name     string
		filename string
		data     []byte
		token    string
		want     int
	}{
		{"no token", "menu.png", testPNG(t), "", http.StatusUnauthorized},
		{"wrong token", "menu.png", testPNG(t), "other", http.StatusUnauthorized},
		{"no file", "", nil, "secret", http.StatusBadRequest},
		{"empty file", "menu.png", nil, "secret", http.StatusBadRequest},
		{"gif", "menu.gif", []byte("GIF89a"), "secret", http.StatusUnsupportedMediaType},
		{"accepted", "menu.png", testPNG(t), "secret", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, ts.URL, tt.filename, tt.data, tt.token)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestUnknownJob(t *testing.T) {
	_, ts := startServer(t, serverOptions{})
	for _, path := range []string{"scan-nope", "scan-nope/stream", "scan-nope/ws"} {
		resp, err := http.Get(ts.URL + jobsPrefix + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, resp.StatusCode)
		}
	}
}

func TestUnreadableImageFailsJob(t *testing.T) {
	_, ts := startServer(t, serverOptions{})

	resp := upload(t, ts.URL, "menu.jpg", []byte("not a jpeg"), "")
	var ub uploadBody
	json.NewDecoder(resp.Body).Decode(&ub)
	resp.Body.Close()

	v := waitForStatus(t, ts.URL, ub.Data.JobID)
	if v.Status != statusFailed || !strings.Contains(v.Error, "could not be read") {
		t.Errorf("status = %+v", v)
	}
	if len(v.Stages) != 1 || v.Stages[0].Stage != scan.StageValidation || v.Stages[0].Status != scan.StatusFailed {
		t.Errorf("stages = %+v", v.Stages)
	}
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(ctx context.Context, img *imageprep.Image) (json.RawMessage, error) {
	return nil, errors.New("model unavailable")
}

func TestSSEStreamReportsAnalysisFailure(t *testing.T) {
	_, ts := startServer(t, serverOptions{Analyzer: failingAnalyzer{}})

	resp := upload(t, ts.URL, "menu.png", testPNG(t), "")
	var ub uploadBody
	json.NewDecoder(resp.Body).Decode(&ub)
	resp.Body.Close()

	stream, err := http.Get(ts.URL + ub.Data.StreamURL)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	// The handler returns after the terminal frame, ending the body.
	body, err := io.ReadAll(stream.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)
	if !strings.HasPrefix(text, "event: connected\n") {
		t.Errorf("stream should open with a connected event:\n%s", text)
	}
	if !strings.Contains(text, "event: job_failed\n") || !strings.Contains(text, codeAnalysisFailed) {
		t.Errorf("missing failure frame:\n%s", text)
	}
	if strings.Contains(text, "job_completed") {
		t.Errorf("failed job reported completion:\n%s", text)
	}
}

func TestCloseCancelsRunningJobs(t *testing.T) {
	s, ts := startServer(t, serverOptions{StageDelay: time.Hour})

	resp := upload(t, ts.URL, "menu.png", testPNG(t), "")
	var ub uploadBody
	json.NewDecoder(resp.Body).Decode(&ub)
	resp.Body.Close()

	s.Close()
	v := s.store.get(ub.Data.JobID).view()
	if v.Status != statusFailed || v.Error != "server shutting down" {
		t.Errorf("after Close: %+v", v)
	}
}

// The real client follows jobs on this server over every transport.
func TestClientEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.png")
	if err := os.WriteFile(path, testPNG(t), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, mode := range []string{streamSSE, streamWebSocket, streamNone} {
		t.Run(mode, func(t *testing.T) {
			_, ts := startServer(t, serverOptions{StreamMode: mode})

			orch := jobs.New(api.NewClient(ts.URL, nil), jobs.Options{
				Poll: transport.PollConfig{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second, MaxFailures: 3},
			})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			tracking, err := orch.Scan(ctx, path)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			var stages int
			var last jobs.Event
			for ev := range tracking.Events() {
				if ev.Kind == jobs.EventStage {
					stages++
				}
				last = ev
			}
			<-tracking.Done()

			if last.Kind != jobs.EventCompleted || last.Progress != 100 {
				t.Fatalf("last event = %+v", last)
			}
			menu, ok := last.Result.(*scan.MenuScanResult)
			if !ok || menu.TotalDishes != 3 || menu.ID != tracking.Job.ID {
				t.Fatalf("result = %#v", last.Result)
			}
			if stages == 0 {
				t.Error("no stage events delivered")
			}
			if orch.State() != jobs.StateCompleted {
				t.Errorf("state = %s", orch.State())
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	got := summarize(json.RawMessage(`{"menu":{"totalItems":4},"extraction":{"quality":"low"}}`))
	if got["itemsFound"] != 4 || got["quality"] != "low" {
		t.Errorf("summarize = %v", got)
	}
	if summarize(json.RawMessage(`[`)) != nil {
		t.Error("malformed payload should summarize to nil")
	}
}

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, f.err
}

func TestUploadsAreArchived(t *testing.T) {
	for _, putErr := range []error{nil, errors.New("access denied")} {
		putter := &fakePutter{err: putErr}
		archive := newS3Archiver(putter, "uploads")
		archive.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }
		_, ts := startServer(t, serverOptions{Archive: archive})

		resp := upload(t, ts.URL, "menu.png", testPNG(t), "")
		var ub uploadBody
		json.NewDecoder(resp.Body).Decode(&ub)
		resp.Body.Close()

		// An archive failure never fails the scan.
		if v := waitForStatus(t, ts.URL, ub.Data.JobID); v.Status != statusCompleted {
			t.Errorf("archive error %v: status = %+v", putErr, v)
		}
		putter.mu.Lock()
		want := "uploads/scans/2026/03/" + ub.Data.JobID + "/menu.png"
		if len(putter.keys) != 1 || putter.keys[0] != want {
			t.Errorf("keys = %v, want [%s]", putter.keys, want)
		}
		putter.mu.Unlock()
	}
}
