// Package fetch streams a single remote media resource to disk over HTTP,
// reporting bytes received against the expected total.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	fileutil "tubefetch/internal/file"

	"github.com/rs/zerolog/log"
)

const (
	defaultHeaderTimeout = 20 * time.Second
	defaultDialTimeout   = 10 * time.Second
)

// ErrShortTransfer reports a body that ended before the announced length.
var ErrShortTransfer = errors.New("transfer ended before expected size")

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("http %d", e.Code) }

// Source describes what to download.
type Source struct {
	URL     string
	Headers map[string]string
	// ExpectedSize is used as the progress denominator when the server does
	// not send Content-Length. Zero means unknown.
	ExpectedSize int64
}

// ProgressFunc receives cumulative bytes received and the expected total (0 if unknown).
type ProgressFunc func(received, total int64)

type ctxKey int

const (
	ctxKeyHeaderTimeout ctxKey = iota
)

// WithHeaderTimeout returns a child context carrying the response-header timeout
// used by clients built from it.
func WithHeaderTimeout(parent context.Context, timeout time.Duration) context.Context {
	return context.WithValue(parent, ctxKeyHeaderTimeout, timeout)
}

func headerTimeoutFromContext(ctx context.Context) time.Duration {
	v := ctx.Value(ctxKeyHeaderTimeout)
	if d, ok := v.(time.Duration); ok && d > 0 {
		return d
	}
	return defaultHeaderTimeout
}

// Client downloads media streams. The zero value is not usable; use NewClient.
type Client struct {
	http *http.Client
}

// NewClient builds a client whose only deadline is on response headers: bodies
// may stream for as long as the caller's context allows.
func NewClient(ctx context.Context) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout}).DialContext,
		ResponseHeaderTimeout: headerTimeoutFromContext(ctx),
		TLSHandshakeTimeout:   defaultDialTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{http: &http.Client{Transport: transport}}
}

// Download streams src into dest atomically. On any error dest does not exist.
func (c *Client) Download(ctx context.Context, src Source, dest string, onProgress ProgressFunc) (int64, error) {
	rawURL := strings.TrimSpace(src.URL)
	if rawURL == "" {
		return 0, errors.New("empty source url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("stream request failed")
		return 0, fmt.Errorf("request stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("unexpected stream status code")
		return 0, &StatusError{Code: resp.StatusCode}
	}

	total := resp.ContentLength
	announced := total > 0
	if !announced {
		total = src.ExpectedSize
	}
	body := &progressReader{
		r:          resp.Body,
		total:      total,
		announced:  announced,
		onProgress: onProgress,
	}
	if onProgress != nil {
		onProgress(0, total)
	}

	written, err := fileutil.WriteStreamAtomic(dest, body)
	if err != nil {
		return written, fmt.Errorf("write stream: %w", err)
	}
	return written, nil
}

type progressReader struct {
	r          io.Reader
	received   int64
	total      int64
	announced  bool
	onProgress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.received += int64(n)
	if n > 0 && p.onProgress != nil {
		p.onProgress(p.received, p.total)
	}
	if errors.Is(err, io.EOF) && p.announced && p.received < p.total {
		return n, ErrShortTransfer
	}
	return n, err
}
