package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"website-extractor/internal/identity"
	"website-extractor/pkg/types"
)

// Renderer materialises a page in a browser. A nil error means success; any
// error is terminal for the URL.
type Renderer interface {
	Render(ctx context.Context, target *url.URL) (*types.Page, error)
}

// RenderOptions configures the browser fallback.
type RenderOptions struct {
	Timeout            time.Duration
	SettleMin          time.Duration
	SettleMax          time.Duration
	MaxBodyBytes       int64
	DisableHeadless    bool
	ConcurrentSessions int
	Identities         *identity.Rotator
	Logger             *slog.Logger
}

// stealthScript runs before any page script and hides the usual automation tells.
const stealthScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
  Object.defineProperty(navigator, 'plugins', {
    get: () => [
      { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
      { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
      { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
    ],
  });
  window.chrome = window.chrome || { runtime: {} };
})();`

// ChromedpRenderer runs one isolated headless Chrome session per render.
type ChromedpRenderer struct {
	opts      RenderOptions
	semaphore chan struct{}
	logger    *slog.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(opts RenderOptions) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 20 * 1024 * 1024
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if opts.SettleMax < opts.SettleMin {
		opts.SettleMax = opts.SettleMin
	}
	if opts.Identities == nil {
		opts.Identities = identity.NewRotator()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		logger:    logger,
	}
}

// Render navigates to target, waits for scripts to settle, and exports the DOM.
func (r *ChromedpRenderer) Render(parentCtx context.Context, target *url.URL) (*types.Page, error) {
	if target == nil {
		return nil, fmt.Errorf("render request URL is nil")
	}

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return nil, parentCtx.Err()
	}

	ua := r.opts.Identities.Draw()
	settle := settleDelay(r.opts.SettleMin, r.opts.SettleMax)
	logger := r.logger.With(
		"url", target.String(),
		"transport", "render",
		"timeout", r.opts.Timeout.String(),
		"settle", settle.String(),
	)

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions(ua)...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	start := time.Now()
	var html string
	var finalURL string

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		emulation.SetUserAgentOverride(ua).
			WithAcceptLanguage("en-US,en;q=0.9").
			WithPlatform("Win32"),
		chromedp.Navigate(target.String()),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	}

	logger.Debug("chromedp starting render")
	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		logger.Error("chromedp run failed", "class", ClassRenderFailure, "error", err)
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	if err := checkRenderedSize(html, r.opts.MaxBodyBytes); err != nil {
		logger.Error("rendered document too large", "class", ClassRenderFailure, "html_bytes", len(html))
		return nil, err
	}

	parsedFinal := target
	if finalURL != "" {
		if u, err := url.Parse(finalURL); err == nil {
			parsedFinal = u
		}
	}

	latency := time.Since(start)
	logger.Debug("chromedp render complete",
		"latency_ms", latency.Milliseconds(),
		"final_url", parsedFinal.String(),
		"html_bytes", len(html),
	)
	return &types.Page{
		URL:             target,
		FinalURL:        parsedFinal,
		Body:            []byte(html),
		ContentType:     "text/html; charset=utf-8",
		StatusCode:      200,
		FetchedAt:       time.Now(),
		Rendered:        true,
		ResponseLatency: latency,
	}, nil
}

func (r *ChromedpRenderer) allocatorOptions(ua string) []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", "en-US"),
		chromedp.WindowSize(1366, 768),
		chromedp.UserAgent(ua),
	}
}

// checkRenderedSize rejects a DOM larger than limit rather than persisting a
// truncated document.
func checkRenderedSize(html string, limit int64) error {
	if int64(len(html)) > limit {
		return fmt.Errorf("rendered %w of %d bytes", errBodyTooLarge, limit)
	}
	return nil
}

// settleDelay draws a wait uniformly from [lo, hi].
func settleDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
