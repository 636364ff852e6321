// Package api is the HTTP client for the scan backend: image upload and
// job status. Streaming endpoints are consumed by the transport package
// using the URLs and headers this client resolves.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/handmadee/HKT-TastebuddyAI-sub000/internal/auth"
	"github.com/rs/zerolog/log"
)

const (
	// defaultTimeout bounds upload and status calls. Streams use no client
	// timeout and rely on context cancellation instead.
	defaultTimeout = 60 * time.Second

	uploadPath = "/scan/upload"
	jobsPath   = "/scan/jobs/"

	// expiryLeeway absorbs clock skew when pre-checking token expiry.
	expiryLeeway = 30 * time.Second
)

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("scan API error (status %d): %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status code to the error classifier.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// Client talks to the scan backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     auth.TokenSource
	now        func() time.Time
}

// NewClient creates a scan API client. tokens may be nil for unauthenticated
// backends such as the local development server.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		now:        time.Now,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload sends the prepared image as multipart field "image" and returns the
// accepted job.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, contentType string) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	log.Debug().
		Str("filename", filename).
		Int("bytes", len(data)).
		Str("contentType", contentType).
		Msg("Uploading image for analysis")

	respBody, err := c.do(ctx, http.MethodPost, uploadPath, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	res, err := decodeUpload(respBody)
	if err != nil {
		return nil, err
	}
	res.StreamURL = c.ResolveURL(res.StreamURL)
	log.Info().Str("jobId", res.JobID).Bool("stream", res.StreamURL != "").Msg("Scan job accepted")
	return res, nil
}

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	respBody, err := c.do(ctx, http.MethodGet, jobsPath+url.PathEscape(jobID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("job status %s: %w", jobID, err)
	}
	return decodeStatus(respBody)
}

// ResolveURL turns a possibly relative stream URL into an absolute one.
// ws:// and wss:// URLs are returned as-is.
func (c *Client) ResolveURL(raw string) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if ref.IsAbs() {
		return raw
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return raw
	}
	if strings.HasPrefix(raw, "/") {
		// Keep any path prefix in the base URL, e.g. https://host/api + /scan/...
		return strings.TrimRight(c.baseURL, "/") + raw
	}
	return base.ResolveReference(ref).String()
}

// AuthHeader returns the headers streaming requests must carry.
func (c *Client) AuthHeader(ctx context.Context) (http.Header, error) {
	h := make(http.Header)
	if c.tokens == nil {
		return h, nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return nil, &HTTPError{StatusCode: http.StatusUnauthorized, Message: err.Error()}
		}
		return nil, err
	}
	if err := auth.CheckExpiry(tok, c.now(), expiryLeeway); err != nil {
		return nil, &HTTPError{StatusCode: http.StatusUnauthorized, Message: err.Error()}
	}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

// do sends a request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	startTime := time.Now()

	hdr, err := c.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Debug().Str("method", method).Str("path", path).Msg("Scan API request")
	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Scan API response")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Scan API response")

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := decodeErrorField(extractErrorField(respBody))
		if msg == "" {
			msg = truncate(strings.TrimSpace(string(respBody)), 200)
		}
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return nil, &HTTPError{StatusCode: httpResp.StatusCode, Message: msg}
	}
	return respBody, nil
}
