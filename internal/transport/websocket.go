package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/api"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/rs/zerolog/log"
)

const wsHandshakeTimeout = 15 * time.Second

// WebSocket reads job events from a ws:// or wss:// stream address, one
// JSON message per frame. Like SSE it never reconnects.
type WebSocket struct {
	dialer  *websocket.Dialer
	headers HeaderFunc
	// OnOpen, if set, is called once the handshake succeeds.
	OnOpen func()
}

// NewWebSocket creates a WebSocket transport.
func NewWebSocket(headers HeaderFunc) *WebSocket {
	return &WebSocket{
		dialer: &websocket.Dialer{
			HandshakeTimeout: wsHandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		headers: headers,
	}
}

func (w *WebSocket) Name() string { return "websocket" }

func (w *WebSocket) Run(ctx context.Context, job scan.Job, emit Emit) error {
	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &scanerr.TransportError{Transport: w.Name(), JobID: job.ID, Err: err}
	}

	var hdr http.Header
	if w.headers != nil {
		h, err := w.headers(ctx)
		if err != nil {
			return fail(err)
		}
		hdr = h
	}

	conn, resp, err := w.dialer.DialContext(ctx, job.StreamAddress, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 {
			return fail(&api.HTTPError{StatusCode: resp.StatusCode, Message: err.Error()})
		}
		return fail(fmt.Errorf("dial: %w", err))
	}
	defer conn.Close()

	// ReadMessage does not observe ctx; closing the connection unblocks it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Debug().Str("jobId", job.ID).Str("url", job.StreamAddress).Msg("WebSocket stream opened")
	if w.OnOpen != nil {
		w.OnOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("stream ended before completion: %w", err))
		}

		msg, ok, err := DecodeMessage("", data)
		if err != nil {
			log.Warn().Err(err).Str("jobId", job.ID).Msg("Skipping malformed WebSocket frame")
			continue
		}
		if !ok {
			continue
		}
		emit(msg)
		if msg.Terminal() {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, strings.ToLower(string(msg.Type)))
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			return nil
		}
	}
}
