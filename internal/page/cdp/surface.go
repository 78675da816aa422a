// internal/page/cdp/surface.go
// Package cdp implements the browser surface on top of chromedp. A Surface
// wraps one headless Chrome tab; its event pump translates raw DevTools
// protocol traffic into the typed events the core consumes.
package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/events"
	corepage "github.com/xkilldash9x/webpilot/internal/page"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const launchProbeTimeout = 30 * time.Second

// Surface drives a single Chrome tab over the DevTools protocol. It satisfies
// the page façade's surface contract; network traffic and lifecycle events
// flow out through the pump attached with StartPump.
type Surface struct {
	logger *zap.Logger
	cfg    *config.Config

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	pump *pump
}

var _ corepage.Surface = (*Surface)(nil)

// NewSurface launches a browser process and opens one tab. The returned
// surface is ready for navigation; call StartPump to begin relaying network
// and lifecycle events into a page bus.
func NewSurface(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Surface, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logger.Named("cdp")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Surface{
		logger:      log,
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}

	// Confirm the browser starts and enable the network domain before any
	// navigation so the pump never misses the first exchange.
	setup := []chromedp.Action{
		network.Enable(),
		cdppage.SetLifecycleEventsEnabled(true),
	}
	if patterns := blockPatterns(cfg.Network.BlockedHosts); len(patterns) > 0 {
		setup = append(setup, network.SetBlockedURLs(patterns))
	}

	probeCtx, probeCancel := context.WithTimeout(tabCtx, launchProbeTimeout)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, setup...); err != nil {
		s.release()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	log.Info("Browser surface launched.", zap.Bool("headless", cfg.Browser.Headless))
	return s, nil
}

// blockPatterns turns a host list into DevTools URL block patterns.
func blockPatterns(hosts []string) []string {
	patterns := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		patterns = append(patterns, "*://"+host+"/*")
	}
	return patterns
}

// allocatorOptions translates the browser config into chromedp allocator
// flags.
func allocatorOptions(cfg *config.Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.Browser.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.Browser.WindowWidth > 0 && cfg.Browser.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Browser.WindowWidth, cfg.Browser.WindowHeight))
	}
	if cfg.Browser.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.Browser.UserAgent))
	}
	if cfg.Browser.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	return opts
}

// StartPump attaches the network event pump and begins publishing into bus.
// Call once, before traffic of interest starts.
func (s *Surface) StartPump(bus *events.Bus) {
	if s.pump != nil {
		return
	}
	s.pump = newPump(s.tabCtx, bus, s.logger, s.cfg.Network.CaptureBodies)
	s.pump.start()
}

// run executes chromedp actions against the tab, honoring the caller's
// context alongside the tab's own lifetime.
func (s *Surface) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, opCancel := corepage.CombineContext(s.tabCtx, ctx)
	defer opCancel()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads url and waits for the load event.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

// Evaluate runs script in the page. When args are present the script is
// treated as a function expression and applied to them; otherwise it is
// evaluated as-is. The JSON result is decoded into res when res is non-nil.
func (s *Surface) Evaluate(ctx context.Context, script string, args []any, res any) error {
	expr := script
	if len(args) > 0 {
		encoded, err := jsonAPI.MarshalToString(args)
		if err != nil {
			return fmt.Errorf("encoding script arguments: %w", err)
		}
		expr = fmt.Sprintf("(%s).apply(null, %s)", script, encoded)
	}

	// chromedp.Evaluate panics on an untyped nil result slot, so discard
	// explicitly when the caller does not want one.
	target := res
	var discard []byte
	if target == nil {
		target = &discard
	}

	err := s.run(ctx, chromedp.Evaluate(expr, target, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// CurrentURL reads the tab's current location.
func (s *Surface) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Show brings the tab to the foreground. A headless browser has no window to
// reveal, so this is only meaningful when headless is off.
func (s *Surface) Show(ctx context.Context) error {
	if s.cfg.Browser.Headless {
		s.logger.Debug("Show requested on a headless surface; nothing to reveal.")
		return nil
	}
	return s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return cdppage.BringToFront().Do(c)
	}))
}

// Hide conceals the tab. Chrome offers no per-tab hide primitive, so this is
// a logged no-op; hosts that need an invisible surface run headless.
func (s *Surface) Hide(ctx context.Context) error {
	s.logger.Debug("Hide requested; surface visibility is fixed at launch.")
	return nil
}

// Screenshot captures the viewport, or the full page when requested.
func (s *Surface) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	var buf []byte
	var err error
	if opts.FullPage {
		quality := opts.Quality
		if quality <= 0 || strings.EqualFold(opts.Format, "png") {
			quality = 100
		}
		err = s.run(ctx, chromedp.FullScreenshot(&buf, quality))
	} else {
		err = s.run(ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Cookies reports the cookies visible to url, or all cookies when url is
// empty.
func (s *Surface) Cookies(ctx context.Context, url string) ([]schemas.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := network.GetCookies()
		if url != "" {
			params = params.WithURLs([]string{url})
		}
		var err error
		raw, err = params.Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

// Click scrolls the first element matching selector into view and clicks it.
func (s *Surface) Click(ctx context.Context, selector string) error {
	err := s.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// Input focuses the element matching selector, clears it, and types text.
func (s *Surface) Input(ctx context.Context, selector, text string) error {
	err := s.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("typing into %q: %w", selector, err)
	}
	return nil
}

// Close stops the pump, shuts the tab down, and releases the browser
// process. Pending body fetches get until ctx expires to drain.
func (s *Surface) Close(ctx context.Context) error {
	if s.pump != nil {
		s.pump.stop(ctx)
		s.pump = nil
	}

	err := chromedp.Cancel(s.tabCtx)
	s.release()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("closing browser tab: %w", err)
	}
	return nil
}

func (s *Surface) release() {
	s.tabCancel()
	s.allocCancel()
}
