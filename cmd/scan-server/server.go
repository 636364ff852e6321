package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/imageprep"
	"github.com/rs/zerolog/log"
)

// Stream modes advertised in the upload response.
const (
	streamSSE       = "sse"
	streamWebSocket = "websocket"
	streamNone      = "none"
)

const (
	uploadPath = "/scan/upload"
	jobsPrefix = "/scan/jobs/"

	sseKeepAlive = 15 * time.Second
)

type serverOptions struct {
	Analyzer   Analyzer
	StageDelay time.Duration
	StreamMode string
	// Token, when set, is required as a bearer token on every request.
	Token string
	// Archive, when set, receives every image that passes validation.
	Archive Archiver
}

type server struct {
	opts   serverOptions
	store  *jobStore
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	upgrader websocket.Upgrader
}

func newServer(opts serverOptions) *server {
	if opts.Analyzer == nil {
		opts.Analyzer = fixtureAnalyzer{}
	}
	if opts.StreamMode == "" {
		opts.StreamMode = streamSSE
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &server{
		opts:   opts,
		store:  newJobStore(),
		ctx:    ctx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || isLocalOrigin(origin)
			},
		},
	}
}

// Close stops running pipelines and waits for them to publish their final
// frame. Safe to call more than once.
func (s *server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(uploadPath, s.requireToken(s.handleUpload))
	mux.HandleFunc(jobsPrefix, s.requireToken(s.handleJobRoutes))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			httpError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Your session has expired. Please sign in again.")
			return
		}
		next(w, r)
	}
}

// POST /scan/upload (multipart, field "image")
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imageprep.MaxFileSize+1<<20)
	file, header, err := r.FormFile("image")
	if err != nil {
		httpError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing image upload")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "image is too large")
		return
	}
	if len(data) == 0 {
		httpError(w, http.StatusBadRequest, "INVALID_REQUEST", "image is empty")
		return
	}
	if !imageprep.IsSupported(header.Filename) {
		httpError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "only JPEG and PNG images are supported")
		return
	}

	job := s.store.create(filepath.Base(header.Filename), header.Header.Get("Content-Type"), data)
	log.Info().
		Str("jobId", job.id).
		Str("filename", job.filename).
		Int("bytes", len(data)).
		Msg("Scan job accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runPipeline(s.ctx, job, s.opts.Analyzer, s.opts.Archive, s.opts.StageDelay)
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"data": map[string]string{
			"jobId":     job.id,
			"streamUrl": s.streamURL(r, job.id),
		},
	})
}

// streamURL is relative for SSE and absolute for WebSocket, since a
// relative URL would resolve to http.
func (s *server) streamURL(r *http.Request, id string) string {
	switch s.opts.StreamMode {
	case streamWebSocket:
		scheme := "ws"
		if r.TLS != nil {
			scheme = "wss"
		}
		return fmt.Sprintf("%s://%s%s%s/ws", scheme, r.Host, jobsPrefix, id)
	case streamNone:
		return ""
	default:
		return jobsPrefix + id + "/stream"
	}
}

// Routes under /scan/jobs/{id}[/stream|/ws]
func (s *server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, jobsPrefix), "/")
	job := s.store.get(parts[0])
	if job == nil {
		httpError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}

	switch {
	case len(parts) == 1:
		respondJSON(w, http.StatusOK, job.view())
	case len(parts) == 2 && parts[1] == "stream":
		s.handleSSE(w, r, job)
	case len(parts) == 2 && parts[1] == "ws":
		s.handleWebSocket(w, r, job)
	default:
		httpError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	}
}

// follow calls send for every frame of job, starting from the first, until
// a terminal frame is sent, ctx ends or send fails. idle is called after
// each period without a frame.
func follow(ctx context.Context, job *scanJob, idleAfter time.Duration, send func(frame) error, idle func() error) error {
	next := 0
	ticker := time.NewTicker(idleAfter)
	defer ticker.Stop()
	for {
		frames, changed := job.framesSince(next)
		for _, f := range frames {
			if err := send(f); err != nil {
				return err
			}
			next++
			if f.terminal() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
			if idle != nil {
				if err := idle(); err != nil {
					return err
				}
			}
		}
	}
}

// GET /scan/jobs/{id}/stream
func (s *server) handleSSE(w http.ResponseWriter, r *http.Request, job *scanJob) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"jobId\":%q}\n\n", job.id)
	flusher.Flush()

	err := follow(r.Context(), job, sseKeepAlive,
		func(f frame) error {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		func() error {
			_, err := io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
			return err
		})
	if err != nil && r.Context().Err() == nil {
		log.Warn().Err(err).Str("jobId", job.id).Msg("SSE stream ended early")
	}
}

// GET /scan/jobs/{id}/ws
func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request, job *scanJob) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("jobId", job.id).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reads are only needed to notice the client going away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = follow(ctx, job, sseKeepAlive,
		func(f frame) error {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(f)
		},
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		})
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("jobId", job.id).Msg("WebSocket stream ended early")
		}
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}
