package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
)

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	}))
}

func TestSSEDeliversUntilTerminal(t *testing.T) {
	server := sseServer(t,
		": keep-alive\n\n",
		"event: connected\ndata: {\"jobId\":\"job-1\"}\n\n",
		"data: {\"type\":\"stage_update\",\"stage\":\"validation\",\"status\":\"completed\",\"timestamp\":\"2026-01-02T03:04:05Z\"}\n\n",
		"event: stage_update\ndata: {\"stage\":\"extraction\",\n",
		"data: \"status\":\"processing\",\"data\":{\"items\":2}}\n\n",
		"data: {\"type\":\"job_completed\",\"result\":{\"items\":[{\"name\":\"Pho\"}]}}\n\n",
		"data: {\"type\":\"stage_update\",\"stage\":\"formatting\"}\n\n",
	)
	defer server.Close()

	opened := false
	s := NewSSE(nil)
	s.OnOpen = func() { opened = true }
	msgs, emit := collect()

	if err := s.Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: server.URL}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opened {
		t.Error("OnOpen was not called")
	}
	if len(*msgs) != 3 {
		t.Fatalf("expected 3 messages, got %+v", *msgs)
	}
	if (*msgs)[0].Stage != scan.StageValidation || (*msgs)[0].Timestamp.Year() != 2026 {
		t.Errorf("first = %+v", (*msgs)[0])
	}
	second := (*msgs)[1]
	if second.Type != TypeStageUpdate || second.Stage != scan.StageExtraction || second.Data["items"] != float64(2) {
		t.Errorf("multi-line frame = %+v", second)
	}
	if (*msgs)[2].Type != TypeCompleted {
		t.Errorf("last = %+v", (*msgs)[2])
	}
}

func TestSSEPrematureEOF(t *testing.T) {
	server := sseServer(t, "data: {\"type\":\"stage_update\",\"stage\":\"validation\",\"status\":\"processing\"}\n\n")
	defer server.Close()

	_, emit := collect()
	err := NewSSE(nil).Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: server.URL}, emit)
	var te *scanerr.TransportError
	if !errors.As(err, &te) || te.Transport != "sse" {
		t.Fatalf("expected sse TransportError, got %v", err)
	}
}

func TestSSENon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, emit := collect()
	err := NewSSE(nil).Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: server.URL}, emit)
	if c := scanerr.ClassifyError(err); c.Category != scanerr.CategoryTransientServer {
		t.Errorf("expected transient_server, got %s (%v)", c.Category, err)
	}
}

func TestSSESendsAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "data: {\"type\":\"job_failed\",\"error\":{\"message\":\"blurry\"}}\n\n")
	}))
	defer server.Close()

	headers := func(context.Context) (http.Header, error) {
		h := make(http.Header)
		h.Set("Authorization", "Bearer abc")
		return h, nil
	}
	msgs, emit := collect()
	if err := NewSSE(headers).Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: server.URL}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*msgs) != 1 || (*msgs)[0].Error != "blurry" {
		t.Errorf("messages = %+v", *msgs)
	}
}

func TestSSECancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSSE(nil)
	s.OnOpen = cancel
	_, emit := collect()

	err := s.Run(ctx, scan.Job{ID: "job-1", StreamAddress: server.URL}, emit)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReadEventsFlushesAtEOF(t *testing.T) {
	var got []string
	stopped, err := readEvents(strings.NewReader("data: a\ndata: b"), func(event, data string) bool {
		got = append(got, data)
		return true
	})
	if err != nil || !stopped {
		t.Fatalf("stopped=%v err=%v", stopped, err)
	}
	if len(got) != 1 || got[0] != "a\nb" {
		t.Errorf("got %q", got)
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		ok    bool
		typ   MessageType
	}{
		{"typed stage", "", `{"type":"stage_update","stage":"validation","status":"completed"}`, true, TypeStageUpdate},
		{"event name fallback", "job_completed", `{"result":{}}`, true, TypeCompleted},
		{"error alias", "", `{"type":"error","message":"bad image"}`, true, TypeFailed},
		{"heartbeat", "ping", `{}`, false, ""},
		{"stage without name", "", `{"type":"stage_update"}`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok, err := DecodeMessage(tt.event, []byte(tt.data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.ok || (ok && msg.Type != tt.typ) {
				t.Errorf("got ok=%v type=%s", ok, msg.Type)
			}
		})
	}

	if _, _, err := DecodeMessage("", []byte("{not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestForAddress(t *testing.T) {
	if _, ok := ForAddress("https://x/stream", nil).(*SSE); !ok {
		t.Error("https should use SSE")
	}
	if _, ok := ForAddress("wss://x/stream", nil).(*WebSocket); !ok {
		t.Error("wss should use WebSocket")
	}
	if ForAddress("", nil) != nil {
		t.Error("empty address should not stream")
	}
}
