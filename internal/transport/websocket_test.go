package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func wsServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Wait for the client to close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketDeliversUntilTerminal(t *testing.T) {
	server := wsServer(t,
		`{"type":"stage_update","stage":"validation","status":"completed"}`,
		`not json`,
		`{"type":"ping"}`,
		`{"type":"stage_update","stage":"allergen_analysis","status":"processing"}`,
		`{"type":"job_completed","result":{"items":[]}}`,
	)
	defer server.Close()

	opened := false
	ws := NewWebSocket(nil)
	ws.OnOpen = func() { opened = true }
	msgs, emit := collect()

	if err := ws.Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: wsURL(server)}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opened {
		t.Error("OnOpen was not called")
	}
	if len(*msgs) != 3 {
		t.Fatalf("expected 3 messages, got %+v", *msgs)
	}
	if (*msgs)[1].Stage != scan.StageAllergenAnalysis {
		t.Errorf("second = %+v", (*msgs)[1])
	}
	if (*msgs)[2].Type != TypeCompleted {
		t.Errorf("last = %+v", (*msgs)[2])
	}
}

func TestWebSocketClosedEarly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stage_update","stage":"validation"}`))
		conn.Close()
	}))
	defer server.Close()

	_, emit := collect()
	err := NewWebSocket(nil).Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: wsURL(server)}, emit)
	var te *scanerr.TransportError
	if !errors.As(err, &te) || te.Transport != "websocket" {
		t.Fatalf("expected websocket TransportError, got %v", err)
	}
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, emit := collect()
	err := NewWebSocket(nil).Run(context.Background(), scan.Job{ID: "job-1", StreamAddress: wsURL(server)}, emit)
	if c := scanerr.ClassifyError(err); c.Category != scanerr.CategorySessionExpired {
		t.Errorf("expected session_expired, got %s (%v)", c.Category, err)
	}
}

func TestWebSocketCancellation(t *testing.T) {
	server := wsServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ws := NewWebSocket(nil)
	ws.OnOpen = cancel
	_, emit := collect()

	err := ws.Run(ctx, scan.Job{ID: "job-1", StreamAddress: wsURL(server)}, emit)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
