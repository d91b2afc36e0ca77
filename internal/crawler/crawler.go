package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"website-extractor/internal/config"
	"website-extractor/internal/fetcher"
	"website-extractor/internal/identity"
	"website-extractor/internal/naming"
	"website-extractor/internal/storage"
	"website-extractor/pkg/types"
)

// ErrInvalidSeed is returned when the seed is not an absolute http(s) URL.
var ErrInvalidSeed = errors.New("invalid seed url")

// Fetcher resolves a URL to a page through whatever transports it composes.
type Fetcher interface {
	Fetch(ctx context.Context, kind types.TaskKind, target, referrer *url.URL) fetcher.Result
}

// Option customises an Engine.
type Option func(*Engine)

// WithFetcher replaces the two-stage fetch strategy entirely.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetch = f }
}

// WithRenderer sets the fallback renderer regardless of the rendering config.
func WithRenderer(r fetcher.Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
		e.rendererSet = true
	}
}

// WithHTTPTransport sets the round tripper used by the direct fetcher.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(e *Engine) { e.transport = rt }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgressSink registers a receiver for per-task progress.
func WithProgressSink(sink ProgressSink) Option {
	return func(e *Engine) { e.progress = sink }
}

// WithSessionID tags logs and progress events with a crawl session id.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// Engine orchestrates fetching, persisting and expanding one site.
type Engine struct {
	cfg config.Config

	fetch       Fetcher
	renderer    fetcher.Renderer
	rendererSet bool
	transport   http.RoundTripper
	limiter     *OriginLimiter

	logger    *slog.Logger
	progress  ProgressSink
	sessionID string
}

// NewEngine builds a crawler engine from configuration.
func NewEngine(cfg config.Config, opts ...Option) (*Engine, error) {
	cfg = cfg.Clone()
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.sessionID != "" {
		e.logger = e.logger.With("session", e.sessionID)
	}

	e.limiter = NewOriginLimiter(
		cfg.Fetch.MinDelay.Duration,
		cfg.Fetch.MaxDelay.Duration,
		RateLimiterSettings{
			Requests: cfg.Fetch.RateLimitPerOrigin.Requests,
			Window:   cfg.Fetch.RateLimitPerOrigin.Window.Duration,
		},
		cfg.Crawl.PerOriginConcurrency,
	)

	if e.fetch != nil {
		return e, nil
	}

	identities := identity.NewRotator(cfg.Fetch.UserAgents...)
	direct, err := fetcher.NewDirectFetcher(fetcher.Options{
		MaxAttempts:       cfg.Fetch.MaxAttempts,
		BackoffBase:       cfg.Fetch.BackoffBase.Duration,
		BackoffMultiplier: cfg.Fetch.BackoffMultiplier,
		MaxBackoff:        cfg.Fetch.MaxBackoff.Duration,
		RequestTimeout:    cfg.Fetch.RequestTimeout.Duration,
		MaxBodyBytes:      cfg.Fetch.MaxBodyBytes,
		RetryStatuses:     cfg.Fetch.RetryStatuses,
		RespectRetryAfter: cfg.Fetch.RespectRetryAfter,
		Headers:           cfg.Fetch.Headers,
		ProxyURL:          cfg.Fetch.ProxyURL,
		Identities:        identities,
		Pacer:             e.limiter,
		Logger:            e.logger,
		Transport:         e.transport,
	})
	if err != nil {
		return nil, fmt.Errorf("direct fetcher: %w", err)
	}

	if !e.rendererSet && cfg.Rendering.Enabled {
		switch cfg.Rendering.Engine {
		case "chromedp", "chrome":
			e.renderer = fetcher.NewChromedpRenderer(fetcher.RenderOptions{
				Timeout:            cfg.Rendering.Timeout.Duration,
				SettleMin:          cfg.Rendering.SettleMin.Duration,
				SettleMax:          cfg.Rendering.SettleMax.Duration,
				MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
				DisableHeadless:    cfg.Rendering.DisableHeadless,
				ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
				Identities:         identities,
				Logger:             e.logger,
			})
		case "none":
		}
	}

	e.fetch = fetcher.NewStrategy(direct, e.renderer, e.logger)
	return e, nil
}

// ParseSeed validates and normalises a seed URL. A missing scheme defaults to https.
func ParseSeed(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSeed)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if !isHTTP(u) {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSeed, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidSeed, raw)
	}
	u.Host = canonicalHost(u)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// crawlRun holds the state of a single Run; nothing survives it.
type crawlRun struct {
	seed     *url.URL
	frontier *Frontier
	namer    naming.Namer
	sink     *storage.Sink

	persisted atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	fallbacks atomic.Int64
}

func (r *crawlRun) stats() types.Stats {
	return types.Stats{
		Enqueued:  int64(r.frontier.Visited()),
		Persisted: r.persisted.Load(),
		Failed:    r.failed.Load(),
		Skipped:   r.skipped.Load(),
		Fallbacks: r.fallbacks.Load(),
	}
}

// Run crawls from the configured seed until the frontier drains or ctx is
// cancelled. Only an invalid seed or an unusable output root fail the run;
// per-URL failures are logged and counted.
func (e *Engine) Run(ctx context.Context) (types.Stats, error) {
	seed, err := ParseSeed(e.cfg.Crawl.SeedURL)
	if err != nil {
		return types.Stats{}, err
	}
	depth := e.cfg.Crawl.MaxDepth
	logger := e.logger.With("seed", seed.String())

	if depth <= 0 {
		logger.Info("depth 0, nothing to crawl")
		return types.Stats{}, nil
	}

	root := filepath.Join(e.cfg.Crawl.OutputDir, naming.RootDir(seed))
	sink, err := storage.NewSink(root, e.logger)
	if err != nil {
		return types.Stats{}, err
	}
	if err := sink.EnsureRoot(); err != nil {
		return types.Stats{}, err
	}

	run := &crawlRun{
		seed:     seed,
		frontier: NewFrontier(NewScope(seed)),
		namer:    naming.NewNamer(seed),
		sink:     sink,
	}

	started := time.Now()
	logger.Info("crawl started", "depth", depth, "root", root, "workers", e.cfg.Crawl.Workers)

	run.frontier.Offer(seed, depth, nil)

	stop := context.AfterFunc(ctx, run.frontier.Close)
	defer stop()

	pool, err := NewWorkerPool(ctx, e.cfg.Crawl.Workers, run.frontier, func(ctx context.Context, task types.CrawlTask) {
		e.handle(ctx, run, task)
	})
	if err != nil {
		return run.stats(), err
	}
	pool.Wait()

	if ctx.Err() != nil {
		abandoned := run.frontier.Len()
		run.skipped.Add(int64(abandoned))
		stats := run.stats()
		logger.Warn("crawl cancelled", "abandoned", abandoned, "persisted", stats.Persisted, "failed", stats.Failed)
		return stats, fmt.Errorf("crawl cancelled: %w", ctx.Err())
	}

	stats := run.stats()
	logger.Info("crawl finished",
		"persisted", stats.Persisted,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"fallbacks", stats.Fallbacks,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return stats, nil
}

// handle drives one task from Fetching to a terminal state.
func (e *Engine) handle(ctx context.Context, run *crawlRun, task types.CrawlTask) {
	logger := e.logger.With("url", task.URL.String(), "kind", task.Kind.String(), "depth", task.Depth)

	if ctx.Err() != nil {
		e.skip(run, task, logger)
		return
	}

	release, err := e.limiter.Acquire(ctx, fetcher.Origin(task.URL))
	if err != nil {
		e.skip(run, task, logger)
		return
	}
	logger.Debug("fetching", "queued", time.Since(task.EnqueuedAt).Round(time.Millisecond))
	e.report(run, task, types.TaskFetching, "", types.StoredResource{}, nil)
	res := e.fetch.Fetch(ctx, task.Kind, task.URL, task.Referrer)
	release()

	if res.Fallback {
		run.fallbacks.Add(1)
	}
	if !res.OK() {
		if ctx.Err() != nil {
			e.skip(run, task, logger)
			return
		}
		run.failed.Add(1)
		logger.Error("fetch failed",
			"class", res.Outcome.Class,
			"status", res.Outcome.Status,
			"attempts", res.Outcome.Attempts,
			"transport", string(res.Transport),
			"error", res.Err,
		)
		e.report(run, task, types.TaskFailed, string(res.Transport), types.StoredResource{}, res.Err)
		return
	}

	stored, err := run.sink.Write(ctx, run.namer.Path(task.URL), res.Page.Body)
	if err != nil {
		if ctx.Err() != nil {
			e.skip(run, task, logger)
			return
		}
		run.failed.Add(1)
		logger.Error("persist failed", "class", "persistence_failure", "error", err)
		e.report(run, task, types.TaskFailed, string(res.Transport), types.StoredResource{}, err)
		return
	}
	run.persisted.Add(1)
	logger.Info("downloaded", "path", stored.Path, "bytes", stored.Size, "transport", string(res.Transport))

	e.report(run, task, types.TaskPersisted, string(res.Transport), stored, nil)

	if task.Kind == types.TaskPage && isHTML(res.Page) {
		e.expand(run, task, res.Page, logger)
	}
}

// expand offers the anchors and sub-resources of a persisted HTML page.
func (e *Engine) expand(run *crawlRun, task types.CrawlTask, page *types.Page, logger *slog.Logger) {
	base := page.FinalURL
	if base == nil {
		base = task.URL
	}
	links, err := ExtractLinks(base, page.Body, e.cfg.Crawl.MaxLinksPerPage)
	if err != nil {
		logger.Warn("link extraction failed", "error", err)
		return
	}

	var pages, resources int
	for _, u := range links.Pages {
		if run.frontier.Offer(u, task.Depth-1, task.URL) {
			pages++
		}
	}
	for _, u := range links.Resources {
		if run.frontier.OfferResource(u, task.URL) {
			resources++
		}
	}
	logger.Debug("links extracted",
		"anchors", len(links.Pages),
		"resources", len(links.Resources),
		"enqueued_pages", pages,
		"enqueued_resources", resources,
	)
}

func (e *Engine) skip(run *crawlRun, task types.CrawlTask, logger *slog.Logger) {
	run.skipped.Add(1)
	logger.Warn("task abandoned")
	e.report(run, task, types.TaskSkipped, "", types.StoredResource{}, nil)
}

func (e *Engine) report(run *crawlRun, task types.CrawlTask, state types.TaskState, transport string, stored types.StoredResource, err error) {
	if e.progress == nil {
		return
	}
	ev := ProgressEvent{
		SessionID: e.sessionID,
		URL:       task.URL.String(),
		Kind:      task.Kind.String(),
		Depth:     task.Depth,
		State:     state,
		Transport: transport,
		Path:      stored.Path,
		Bytes:     stored.Size,
		Pending:   run.frontier.Len(),
		Stats:     run.stats(),
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.progress.Report(ev)
}

func isHTML(page *types.Page) bool {
	if page == nil {
		return false
	}
	if page.Rendered {
		return true
	}
	ct := strings.ToLower(page.ContentType)
	if ct == "" {
		ct = strings.ToLower(http.DetectContentType(page.Body))
	}
	return strings.Contains(ct, "html")
}
