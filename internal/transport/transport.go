// Package transport delivers stage, completion and failure messages for a
// scan job over a server stream (SSE or WebSocket) or by polling.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
)

// MessageType identifies a transport message.
type MessageType string

const (
	TypeStageUpdate MessageType = "stage_update"
	TypeCompleted   MessageType = "job_completed"
	TypeFailed      MessageType = "job_failed"
)

// Message is one event from the server, normalized across transports.
type Message struct {
	Type      MessageType
	Stage     scan.Stage
	Status    scan.StageStatus
	Data      map[string]any
	Result    json.RawMessage
	Error     string
	Timestamp time.Time
}

// Terminal reports whether the message ends the job.
func (m Message) Terminal() bool {
	return m.Type == TypeCompleted || m.Type == TypeFailed
}

// Emit receives messages from a running transport. It is called from the
// transport's goroutine, one message at a time.
type Emit func(Message)

// Transport runs until the job reaches a terminal message, the context is
// cancelled, or the transport fails.
//
// Run returns nil after emitting a terminal message, ctx.Err() on
// cancellation, and a *scanerr.TransportError or *scanerr.TimeoutError
// otherwise. Nothing is emitted after Run returns.
type Transport interface {
	Name() string
	Run(ctx context.Context, job scan.Job, emit Emit) error
}

// HeaderFunc supplies request headers (typically Authorization) for a
// stream connection.
type HeaderFunc func(ctx context.Context) (http.Header, error)

// ForAddress picks the streaming transport for a stream address:
// http(s) uses SSE and ws(s) uses WebSocket. It returns nil when the address
// cannot be streamed.
func ForAddress(addr string, headers HeaderFunc) Transport {
	lower := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		return NewWebSocket(headers)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return NewSSE(headers)
	default:
		return nil
	}
}

// wireMessage is the JSON body of a stream frame.
type wireMessage struct {
	Type      string          `json:"type"`
	Stage     string          `json:"stage"`
	Status    string          `json:"status"`
	Data      map[string]any  `json:"data"`
	Result    json.RawMessage `json:"result"`
	Error     json.RawMessage `json:"error"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodeMessage decodes a stream frame. eventName is the SSE event field and
// stands in for a missing "type". ok is false for frames that carry no job
// event (heartbeats, connection notices).
func DecodeMessage(eventName string, data []byte) (msg Message, ok bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Message{}, false, nil
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, false, fmt.Errorf("decode stream message: %w", err)
	}

	typ := normalizeType(w.Type)
	if typ == "" {
		typ = normalizeType(eventName)
	}
	if typ == "" {
		return Message{}, false, nil
	}

	msg = Message{
		Type:      typ,
		Stage:     scan.Stage(w.Stage),
		Status:    scan.StageStatus(strings.ToLower(w.Status)),
		Data:      w.Data,
		Timestamp: decodeTimestamp(w.Timestamp),
	}
	switch typ {
	case TypeStageUpdate:
		if msg.Stage == "" {
			return Message{}, false, nil
		}
		if msg.Status == "" {
			msg.Status = scan.StatusProcessing
		}
	case TypeCompleted:
		if len(w.Result) > 0 && string(w.Result) != "null" {
			msg.Result = w.Result
		}
	case TypeFailed:
		msg.Error = errorText(w.Error)
		if msg.Error == "" {
			msg.Error = w.Message
		}
		if msg.Error == "" {
			msg.Error = "analysis failed"
		}
	}
	return msg, true, nil
}

func normalizeType(s string) MessageType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stage_update", "stage", "progress":
		return TypeStageUpdate
	case "job_completed", "completed", "complete":
		return TypeCompleted
	case "job_failed", "failed", "error":
		return TypeFailed
	default:
		return ""
	}
}

func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// decodeTimestamp accepts RFC 3339 strings and Unix milliseconds. A missing
// or malformed timestamp becomes the receive time.
func decodeTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now()
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
		return time.Now()
	}
	var ms float64
	if json.Unmarshal(raw, &ms) == nil {
		return time.UnixMilli(int64(ms))
	}
	return time.Now()
}
