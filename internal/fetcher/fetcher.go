package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"website-extractor/internal/identity"
	"website-extractor/pkg/types"
)

// errBodyTooLarge marks a response that overran MaxBodyBytes.
var errBodyTooLarge = errors.New("response body exceeds limit")

// Pacer throttles attempts against an origin. It is called before every attempt.
type Pacer interface {
	Wait(ctx context.Context, origin string) error
}

// Options controls direct HTTP fetching.
type Options struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	RetryStatuses     []int
	RespectRetryAfter bool
	Headers           map[string]string
	ProxyURL          string
	Identities        *identity.Rotator
	Pacer             Pacer
	Logger            *slog.Logger
	// Transport overrides the default round tripper; tests use it.
	Transport http.RoundTripper
}

// DirectFetcher issues GETs with retry, backoff and identity rotation.
type DirectFetcher struct {
	client       *http.Client
	opts         Options
	retryable    map[int]struct{}
	extraHeaders map[string]string
	identities   *identity.Rotator
	pacer        Pacer
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewDirectFetcher constructs a direct fetcher using the provided options.
func NewDirectFetcher(opts Options) (*DirectFetcher, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 * 1024 * 1024
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = 2
	}
	if opts.RetryStatuses == nil {
		opts.RetryStatuses = []int{429, 500, 502, 503, 504}
	}
	if opts.Identities == nil {
		opts.Identities = identity.NewRotator()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	transport := opts.Transport
	if transport == nil {
		base := &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		if strings.TrimSpace(opts.ProxyURL) != "" {
			proxyURL, err := url.Parse(opts.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url: %w", err)
			}
			base.Proxy = http.ProxyURL(proxyURL)
		}
		transport = base
	}

	retryable := make(map[int]struct{}, len(opts.RetryStatuses))
	for _, code := range opts.RetryStatuses {
		retryable[code] = struct{}{}
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	return &DirectFetcher{
		client:       &http.Client{Transport: transport},
		opts:         opts,
		retryable:    retryable,
		extraHeaders: headers,
		identities:   opts.Identities,
		pacer:        opts.Pacer,
		logger:       opts.Logger,
		sleep:        sleepContext,
	}, nil
}

// Fetch downloads target, retrying transient failures, and classifies the result.
func (f *DirectFetcher) Fetch(ctx context.Context, target, referrer *url.URL) Outcome {
	if target == nil {
		return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Err: errors.New("request URL is nil")}
	}
	logger := f.logger.With("url", target.String(), "transport", "direct")
	origin := Origin(target)

	var last Outcome
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, origin); err != nil {
				return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Err: err, Attempts: attempt - 1}
			}
		}

		out, retryAfter := f.attempt(ctx, target, referrer)
		out.Attempts = attempt
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Err: ctx.Err(), Attempts: attempt}
		}
		if !isTransient(out) {
			return out
		}
		last = out
		if attempt == f.opts.MaxAttempts {
			break
		}

		wait := f.backoff(attempt)
		if f.opts.RespectRetryAfter && retryAfter > wait {
			wait = retryAfter
			if f.opts.MaxBackoff > 0 && wait > f.opts.MaxBackoff {
				wait = f.opts.MaxBackoff
			}
		}
		logger.Debug("retrying fetch", "attempt", attempt, "class", out.Class, "reason", out.Error(), "backoff", wait.String())
		if err := f.sleep(ctx, wait); err != nil {
			return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Err: err, Attempts: attempt}
		}
	}

	// Budget exhausted on a transient class.
	if last.Class == ClassTransientNetwork {
		last.Kind = OutcomeFatal
		last.Escalate = true
		last.Reason = fmt.Sprintf("network retries exhausted after %d attempts: %v", last.Attempts, last.Err)
		return last
	}
	last.Kind = OutcomeRetryable
	last.Reason = fmt.Sprintf("status %d persisted after %d attempts", last.Status, last.Attempts)
	return last
}

// attempt performs one GET. A transient result is returned with Kind Retryable.
func (f *DirectFetcher) attempt(ctx context.Context, target, referrer *url.URL) (Outcome, time.Duration) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Err: fmt.Errorf("build request: %w", err)}, 0
	}
	f.setHeaders(req, referrer)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return classifyNetworkError(ctx, err), 0
	}

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		body, err := f.readBody(resp)
		if err != nil {
			if errors.Is(err, errBodyTooLarge) {
				return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Status: status, Err: err}, 0
			}
			return classifyNetworkError(ctx, err), 0
		}
		finalURL := target
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL
		}
		return success(&types.Page{
			URL:             target,
			FinalURL:        finalURL,
			Body:            body,
			ContentType:     resp.Header.Get("Content-Type"),
			StatusCode:      status,
			FetchedAt:       time.Now(),
			ResponseLatency: time.Since(start),
		}, 0), 0
	}

	drain(resp)
	if _, ok := f.retryable[status]; ok {
		return Outcome{
			Kind:   OutcomeRetryable,
			Class:  ClassRateLimited,
			Status: status,
			Reason: fmt.Sprintf("transient status %d", status),
		}, parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if status >= 400 && status < 500 {
		return Outcome{
			Kind:     OutcomeBlocked,
			Class:    ClassBlocked,
			Status:   status,
			Reason:   fmt.Sprintf("blocked with status %d", status),
			Escalate: true,
		}, 0
	}
	return Outcome{
		Kind:   OutcomeFatal,
		Class:  ClassFatal,
		Status: status,
		Reason: fmt.Sprintf("unexpected status %d", status),
	}, 0
}

func (f *DirectFetcher) setHeaders(req *http.Request, referrer *url.URL) {
	req.Header.Set("User-Agent", f.identities.Draw())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if referrer != nil {
		req.Header.Set("Referer", referrer.String())
	}
	for k, v := range f.extraHeaders {
		req.Header.Set(k, v)
	}
}

func (f *DirectFetcher) backoff(attempt int) time.Duration {
	if f.opts.BackoffBase <= 0 {
		return 0
	}
	d := float64(f.opts.BackoffBase) * math.Pow(f.opts.BackoffMultiplier, float64(attempt-1))
	if f.opts.MaxBackoff > 0 && d > float64(f.opts.MaxBackoff) {
		return f.opts.MaxBackoff
	}
	return time.Duration(d)
}

func (f *DirectFetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.opts.MaxBodyBytes {
		return nil, fmt.Errorf("%w of %d bytes", errBodyTooLarge, f.opts.MaxBodyBytes)
	}
	return body, nil
}

// classifyNetworkError separates per-attempt timeouts and resets, which are
// retried, from failures that suggest active blocking, which escalate at once.
func classifyNetworkError(parent context.Context, err error) Outcome {
	if parent.Err() != nil {
		return Outcome{Kind: OutcomeFatal, Class: ClassFatal, Err: parent.Err()}
	}
	var netErr net.Error
	transient := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	if transient {
		return Outcome{Kind: OutcomeRetryable, Class: ClassTransientNetwork, Err: err, Reason: err.Error()}
	}
	return Outcome{
		Kind:     OutcomeFatal,
		Class:    ClassTransport,
		Err:      fmt.Errorf("http fetch failed: %w", err),
		Escalate: true,
	}
}

func isTransient(o Outcome) bool {
	return o.Kind == OutcomeRetryable
}

// parseRetryAfter understands the delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Origin returns the scheme://host key used for per-origin throttling.
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
