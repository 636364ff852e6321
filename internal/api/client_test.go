package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/auth"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server, tokens auth.TokenSource) *Client {
	c := NewClient(server.URL, tokens)
	c.httpClient = server.Client()
	return c
}

func TestUploadResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"success envelope", `{"success":true,"data":{"jobId":"job-1","streamUrl":"/scan/jobs/job-1/stream"}}`},
		{"message envelope", `{"message":"accepted","jobId":"job-1","streamUrl":"/scan/jobs/job-1/stream"}`},
		{"bare", `{"jobId":"job-1","streamUrl":"/scan/jobs/job-1/stream"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				if r.URL.Path != "/scan/upload" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				f, hdr, err := r.FormFile("image")
				if err != nil {
					t.Errorf("missing image part: %v", err)
				} else {
					data, _ := io.ReadAll(f)
					if string(data) != "jpegbytes" || hdr.Filename != "dish.jpg" {
						t.Errorf("unexpected part %q %q", hdr.Filename, data)
					}
				}
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			res, err := newTestClient(server, nil).Upload(context.Background(), "dish.jpg", []byte("jpegbytes"), "image/jpeg")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.JobID != "job-1" {
				t.Errorf("JobID = %q", res.JobID)
			}
			if res.StreamURL != server.URL+"/scan/jobs/job-1/stream" {
				t.Errorf("StreamURL = %q", res.StreamURL)
			}
		})
	}
}

func TestUploadRejected(t *testing.T) {
	for name, body := range map[string]string{
		"success false": `{"success":false,"error":"image too blurry"}`,
		"no job id":     `{"message":"ok"}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer server.Close()

			if _, err := newTestClient(server, nil).Upload(context.Background(), "a.jpg", []byte("x"), "image/jpeg"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestHTTPErrorCarriesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"upstream model unavailable"}}`)
	}))
	defer server.Close()

	_, err := newTestClient(server, nil).JobStatus(context.Background(), "job-1")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != 503 || httpErr.Message != "upstream model unavailable" {
		t.Errorf("unexpected error: %+v", httpErr)
	}
	if got := scanerr.ClassifyError(err); got.Category != scanerr.CategoryTransientServer {
		t.Errorf("classified as %s", got.Category)
	}
}

func TestJobStatusDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scan/jobs/job-7" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer opaque" {
			t.Errorf("Authorization = %q", got)
		}
		io.WriteString(w, `{
			"status": "PROCESSING",
			"stage": {"name": "extraction", "status": "completed", "data": {"items": 4}},
			"stages": {"validation": {"status": "completed"}, "extraction": {"status": "processing"}}
		}`)
	}))
	defer server.Close()

	st, err := newTestClient(server, auth.StaticToken("opaque")).JobStatus(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != "processing" {
		t.Errorf("Status = %q", st.Status)
	}
	if len(st.Stages) != 2 {
		t.Fatalf("Stages = %+v", st.Stages)
	}
	if st.Stages[0].Stage != scan.StageValidation || st.Stages[1].Stage != scan.StageExtraction {
		t.Errorf("stages out of order: %+v", st.Stages)
	}
	if st.Stages[1].Status != scan.StatusCompleted {
		t.Errorf("current stage should override the map entry, got %s", st.Stages[1].Status)
	}
}

func TestJobStatusCompletedAndFailed(t *testing.T) {
	st, err := decodeStatus([]byte(`{"status":"completed","result":{"items":[{"name":"x"}]}}`))
	if err != nil || st.Status != "completed" || len(st.Result) == 0 {
		t.Errorf("completed: %+v %v", st, err)
	}

	st, err = decodeStatus([]byte(`{"success":true,"data":{"status":"failed","error":"ocr failed"}}`))
	if err != nil || st.Status != "failed" || st.Error != "ocr failed" {
		t.Errorf("failed: %+v %v", st, err)
	}

	st, err = decodeStatus([]byte(`{"status":"processing","stages":[{"stage":"formatting","status":"processing"}]}`))
	if err != nil || len(st.Stages) != 1 || st.Stages[0].Stage != scan.StageFormatting {
		t.Errorf("stage list: %+v %v", st, err)
	}
}

func TestExpiredTokenShortCircuits(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	signed, err := tok.SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = newTestClient(server, auth.StaticToken(signed)).JobStatus(context.Background(), "job-1")
	if got := scanerr.ClassifyError(err); got.Category != scanerr.CategorySessionExpired {
		t.Errorf("expected session_expired, got %s (%v)", got.Category, err)
	}
	if called {
		t.Error("expired token should not reach the server")
	}
}

func TestResolveURL(t *testing.T) {
	c := NewClient("https://api.example.com/v1/", nil)

	tests := []struct{ in, want string }{
		{"", ""},
		{"/scan/jobs/1/stream", "https://api.example.com/v1/scan/jobs/1/stream"},
		{"scan/jobs/1/stream", "https://api.example.com/v1/scan/jobs/1/stream"},
		{"wss://rt.example.com/jobs/1", "wss://rt.example.com/jobs/1"},
		{"https://cdn.example.com/s/1", "https://cdn.example.com/s/1"},
	}
	for _, tt := range tests {
		if got := c.ResolveURL(tt.in); got != tt.want {
			t.Errorf("ResolveURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if !strings.HasSuffix(c.BaseURL(), "/v1") {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}
}
