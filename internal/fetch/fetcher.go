// Package fetch downloads timing reports from publisher sites.
//
// Failures are classified for the import pipeline. Anything that prevents
// reading a complete response is timing.ErrReportUnreachable. Client errors
// other than 408 and 429 also carry timing.ErrNotRetryable. A response that
// is not the expected report (an HTML page, whatever the status, or an empty
// or oversized body, or a table without the layout's columns) is
// timing.ErrReportFormatInvalid.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/laptiming/internal/report"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

const (
	// DefaultTimeout bounds a download when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps a report body when Config.MaxBytes is zero.
	DefaultMaxBytes int64 = 20 << 20

	defaultUserAgent = "laptiming-importer/1.0"
	acceptHeader     = "text/csv, text/plain;q=0.9, */*;q=0.5"
)

// Outcome labels passed to Observer.
const (
	OutcomeOK          = "ok"
	OutcomeUnreachable = "unreachable"
	OutcomeInvalid     = "invalid"
)

// Observer receives one call per Fetch.
type Observer interface {
	ObserveFetch(importer timing.Importer, outcome string, d time.Duration, size int)
}

// Config holds fetcher settings.
type Config struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
}

// Fetcher downloads reports. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	observer  Observer
	now       func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client. Its timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithObserver reports every fetch to o.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// New creates a Fetcher. The default client uses http.DefaultTransport.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	f := &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url and checks that it looks like a report of the given
// kind for importer.
func (f *Fetcher) Fetch(ctx context.Context, url string, kind timing.ReportKind, importer timing.Importer) (timing.RawReport, error) {
	start := f.now()
	raw, err := f.fetch(ctx, url, kind, importer)

	outcome := OutcomeOK
	switch {
	case errors.Is(err, timing.ErrReportUnreachable):
		outcome = OutcomeUnreachable
	case err != nil:
		outcome = OutcomeInvalid
	}
	if f.observer != nil {
		f.observer.ObserveFetch(importer, outcome, f.now().Sub(start), len(raw.Body))
	}

	logger := slog.Default().With("url", url, "kind", kind, "importer", importer)
	if err != nil {
		logger.Warn("report fetch failed", "outcome", outcome, "error", err)
		return timing.RawReport{}, err
	}
	logger.Debug("report fetched", "bytes", len(raw.Body), "duration_ms", f.now().Sub(start).Milliseconds())
	return raw, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string, kind timing.ReportKind, importer timing.Importer) (timing.RawReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return timing.RawReport{}, fmt.Errorf("%w: %v", timing.ErrInvalidArgument, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return timing.RawReport{}, fmt.Errorf("%w: GET %s: %v", timing.ErrReportUnreachable, url, err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return timing.RawReport{}, statusError(url, resp, contentType)
	}
	if isHTMLType(contentType) {
		return timing.RawReport{}, fmt.Errorf("%w: %s returned an HTML page", timing.ErrReportFormatInvalid, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return timing.RawReport{}, fmt.Errorf("%w: reading %s: %v", timing.ErrReportUnreachable, url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return timing.RawReport{}, fmt.Errorf("%w: %s exceeds %d bytes", timing.ErrReportFormatInvalid, url, f.maxBytes)
	}

	body, err = decode(body)
	if err != nil {
		return timing.RawReport{}, fmt.Errorf("%w: decoding %s: %v", timing.ErrReportFormatInvalid, url, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return timing.RawReport{}, fmt.Errorf("%w: %s returned an empty body", timing.ErrReportFormatInvalid, url)
	}
	if looksLikeHTML(trimmed) {
		return timing.RawReport{}, fmt.Errorf("%w: %s returned an HTML page", timing.ErrReportFormatInvalid, url)
	}

	raw := timing.RawReport{
		URL:         url,
		Kind:        kind,
		Importer:    importer,
		ContentType: contentType,
		Body:        body,
		FetchedAt:   f.now().UTC(),
	}
	if err := report.CheckHeader(raw); err != nil {
		return timing.RawReport{}, err
	}
	return raw, nil
}

// statusError classifies a non-2xx response. An HTML error page is a content
// problem; otherwise the report is unreachable, permanently so for client
// errors other than 408 and 429.
func statusError(url string, resp *http.Response, contentType string) error {
	head, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if isHTMLType(contentType) || looksLikeHTML(bytes.TrimSpace(head)) {
		return fmt.Errorf("%w: %s returned an HTML page (HTTP %d)", timing.ErrReportFormatInvalid, url, resp.StatusCode)
	}

	code := resp.StatusCode
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w: GET %s: HTTP %d", timing.ErrReportUnreachable, timing.ErrNotRetryable, url, code)
	}
	return fmt.Errorf("%w: GET %s: HTTP %d", timing.ErrReportUnreachable, url, code)
}

func isHTMLType(contentType string) bool {
	mt, _, _ := mime.ParseMediaType(contentType)
	return mt == "text/html"
}

// decode strips a byte order mark, converting UTF-16 bodies to UTF-8, and
// replaces invalid UTF-8 sequences.
func decode(body []byte) ([]byte, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, body)
	return out, err
}

func looksLikeHTML(b []byte) bool {
	head := bytes.ToLower(b[:min(len(b), 64)])
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.HasPrefix(head, []byte("<head")) ||
		bytes.HasPrefix(head, []byte("<body"))
}
