package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/api"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scan"
	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/scanerr"
	"github.com/rs/zerolog/log"
)

// SSE reads job events from a text/event-stream response. It does not
// reconnect: any failure is returned so the caller can fall back.
type SSE struct {
	httpClient *http.Client
	headers    HeaderFunc
	// OnOpen, if set, is called once the stream responds with 200.
	OnOpen func()
}

// NewSSE creates an SSE transport. The HTTP client has no timeout; the
// stream lives until the context ends.
func NewSSE(headers HeaderFunc) *SSE {
	return &SSE{httpClient: &http.Client{}, headers: headers}
}

func (s *SSE) Name() string { return "sse" }

func (s *SSE) Run(ctx context.Context, job scan.Job, emit Emit) error {
	fail := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &scanerr.TransportError{Transport: s.Name(), JobID: job.ID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.StreamAddress, nil)
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	if s.headers != nil {
		hdr, err := s.headers(ctx)
		if err != nil {
			return fail(err)
		}
		for k, v := range hdr {
			req.Header[k] = v
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("connect: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(&api.HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))})
	}

	log.Debug().Str("jobId", job.ID).Str("url", job.StreamAddress).Msg("SSE stream opened")
	if s.OnOpen != nil {
		s.OnOpen()
	}

	terminal, err := readEvents(resp.Body, func(event, data string) bool {
		msg, ok, err := DecodeMessage(event, []byte(data))
		if err != nil {
			log.Warn().Err(err).Str("jobId", job.ID).Msg("Skipping malformed SSE frame")
			return false
		}
		if !ok {
			return false
		}
		emit(msg)
		return msg.Terminal()
	})
	if terminal {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return fail(fmt.Errorf("stream ended before completion: %w", err))
}

// readEvents parses SSE frames from r and calls dispatch for each complete
// event until dispatch returns true. It returns whether dispatch stopped the
// read, and the read error otherwise (nil on clean EOF).
func readEvents(r io.Reader, dispatch func(event, data string) bool) (bool, error) {
	br := bufio.NewReader(r)
	var event string
	var data []string

	flush := func() bool {
		if len(data) == 0 {
			event = ""
			return false
		}
		stop := dispatch(event, strings.Join(data, "\n"))
		event, data = "", nil
		return stop
	}

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if flush() {
					return true, nil
				}
			case strings.HasPrefix(line, ":"):
				// comment / keep-alive
			default:
				field, value, _ := strings.Cut(line, ":")
				value = strings.TrimPrefix(value, " ")
				switch field {
				case "event":
					event = value
				case "data":
					data = append(data, value)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return flush(), nil
			}
			return false, err
		}
	}
}
