// internal/page/page.go
// Package page implements the façade over one embedded browser surface. A
// Page owns the request ledger and event bus for the surface's lifetime and
// exposes the host-facing operations: navigation and interaction delegation,
// the wait family, authentication, and interception queries. The surface
// itself is an external collaborator reached through the Surface interface;
// the page never retries its failures.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/authmon"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/events"
	"github.com/xkilldash9x/webpilot/internal/ledger"
	"github.com/xkilldash9x/webpilot/internal/network"
	"github.com/xkilldash9x/webpilot/internal/poll"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Surface is the capability interface of the embedded browser. The core
// calls into it and receives events from it; it does not implement
// rendering, script sandboxing, or native event wiring.
type Surface interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script in the page and unmarshals the JSON result into
	// res when res is non-nil. args, when present, are applied to the script
	// as a function.
	Evaluate(ctx context.Context, script string, args []any, res any) error
	CurrentURL(ctx context.Context) (string, error)
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
	Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error)
	Cookies(ctx context.Context, url string) ([]schemas.Cookie, error)
	Click(ctx context.Context, selector string) error
	Input(ctx context.Context, selector, text string) error
	Close(ctx context.Context) error
}

// AuthEvaluator decides, against the live page, whether the user is
// authenticated. It runs once per polling tick.
type AuthEvaluator func(ctx context.Context, p *Page) (bool, error)

// Page is the host-facing façade for one embedded page instance. One Page
// maps to exactly one Surface; closing the page cancels every in-flight
// wait.
type Page struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	cfg     *config.Config
	surface Surface

	ledger *ledger.Ledger
	bus    *events.Bus
	native *network.Client

	closeOnce sync.Once
}

// New wires a page around the given surface. The bus listener for response
// observations is registered here, so any surface event pump attached to
// Bus() feeds the ledger automatically.
func New(parent context.Context, cfg *config.Config, surface Surface, logger *zap.Logger) (*Page, error) {
	if surface == nil {
		return nil, errors.New("page: nil surface")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	pageID := uuid.New().String()
	log := logger.Named("page").With(zap.String("page_id", pageID))

	ctx, cancel := context.WithCancel(parent)

	native, err := network.NewClient(log, cfg.Network.RequestTimeout, cfg.Browser.IgnoreTLSErrors)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initializing native client: %w", err)
	}

	p := &Page{
		id:      pageID,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log,
		cfg:     cfg,
		surface: surface,
		ledger:  ledger.New(log, cfg.Ledger.MaxEntries),
		bus:     events.NewBus(log),
		native:  native,
	}

	// Completed exchanges observed by the bridge land in the ledger.
	p.bus.On(schemas.EventResponse, func(payload any) {
		if rec, ok := payload.(schemas.RequestRecord); ok {
			p.ledger.Record(rec)
		}
	})

	return p, nil
}

// ID returns the page instance identifier.
func (p *Page) ID() string { return p.id }

// Bus exposes the page's event bridge so a surface event pump can publish
// into it.
func (p *Page) Bus() *events.Bus { return p.bus }

// On registers a host listener for the named event and returns a token for
// Off.
func (p *Page) On(name schemas.EventName, handler events.Handler) int {
	return p.bus.On(name, handler)
}

// Off removes a listener registered with On.
func (p *Page) Off(name schemas.EventName, id int) {
	p.bus.Off(name, id)
}

// Dispatch broadcasts a host-originated payload to dispatch listeners on
// this page's bus.
func (p *Page) Dispatch(payload any) {
	p.bus.Emit(schemas.EventDispatch, payload)
}

// Close tears the page down: listeners see EventClose first, every in-flight
// wait is cancelled, the surface is released, and the ledger is cleared.
// Safe to call more than once.
func (p *Page) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.logger.Info("Closing page.")
		p.bus.Emit(schemas.EventClose, nil)
		p.cancel()
		err = p.surface.Close(ctx)
		p.native.CloseIdleConnections()
		p.ledger.Reset()
		p.bus.Emit(schemas.EventClosed, nil)
	})
	return err
}

// -- Delegated surface operations (no retry; surface errors propagate) --

// Navigate loads the URL, bounded by the configured navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	if t := p.cfg.Network.NavigationTimeout; t > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(opCtx, t)
		defer cancel()
	}

	p.logger.Info("Navigating.", zap.String("url", url))
	if err := p.surface.Navigate(opCtx, url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Evaluate runs script in the page, applying args when given, and decodes
// the result into res when res is non-nil.
func (p *Page) Evaluate(ctx context.Context, script string, res any, args ...any) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.surface.Evaluate(opCtx, script, args, res)
}

// CurrentURL reads the page's current location from the surface.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.surface.CurrentURL(opCtx)
}

// Click delegates a click on the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	p.logger.Debug("Clicking element.", zap.String("selector", selector))
	return p.surface.Click(opCtx, selector)
}

// Input delegates typing text into the element matching selector.
func (p *Page) Input(ctx context.Context, selector, text string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	p.logger.Debug("Typing into element.", zap.String("selector", selector), zap.Int("text_length", len(text)))
	return p.surface.Input(opCtx, selector, text)
}

// Show asks the surface to reveal its UI.
func (p *Page) Show(ctx context.Context) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.surface.Show(opCtx)
}

// Hide asks the surface to conceal its UI.
func (p *Page) Hide(ctx context.Context) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.surface.Hide(opCtx)
}

// Screenshot captures the current viewport (or full page, per opts).
func (p *Page) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.surface.Screenshot(opCtx, opts)
}

// Cookies reports the cookies the surface holds for url.
func (p *Page) Cookies(ctx context.Context, url string) ([]schemas.Cookie, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.surface.Cookies(opCtx, url)
}

// NativeRequest issues an HTTP request through the host-side client rather
// than the page.
func (p *Page) NativeRequest(ctx context.Context, spec schemas.NativeRequest) (schemas.NativeResponse, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return p.native.Do(opCtx, spec)
}

// -- Interception queries --

// GetRequests returns an immutable snapshot of every intercepted exchange.
func (p *Page) GetRequests() []schemas.RequestRecord {
	return p.ledger.All()
}

// GetRequestHeaders merges the request headers of all exchanges the matcher
// accepts; for a header seen several times, the most recently observed value
// wins.
func (p *Page) GetRequestHeaders(m ledger.Matcher) schemas.HeaderMap {
	return p.ledger.MergedHeaders(m)
}

// -- Wait family --

// WaitForSelector polls until an element matching the CSS selector exists.
// Defaults: the configured wait timeout and interval.
func (p *Page) WaitForSelector(ctx context.Context, selector string, opts poll.Options) error {
	probe := fmt.Sprintf("!!document.querySelector(%s)", jsString(selector))

	pred := func(ctx context.Context) (bool, error) {
		var found bool
		if err := p.surface.Evaluate(ctx, probe, nil, &found); err != nil {
			return false, err
		}
		return found, nil
	}

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	_, err := poll.Wait(opCtx, pred, p.selectorDefaults(opts))
	if err != nil {
		return fmt.Errorf("waiting for selector %q: %w", selector, err)
	}
	return nil
}

// WaitForFunction polls until the evaluated script, applied to args, yields
// a truthy value. Script errors abort the wait immediately.
func (p *Page) WaitForFunction(ctx context.Context, script string, opts poll.Options, args ...any) error {
	pred := func(ctx context.Context) (bool, error) {
		var res any
		if err := p.surface.Evaluate(ctx, script, args, &res); err != nil {
			return false, err
		}
		return truthy(res), nil
	}

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	_, err := poll.Wait(opCtx, pred, p.selectorDefaults(opts))
	if err != nil {
		return fmt.Errorf("waiting for function: %w", err)
	}
	return nil
}

// WaitForRequest polls until the ledger holds an exchange matching m that
// was observed after this call started; traffic recorded earlier never
// satisfies the wait. Defaults: the configured request times/interval pair.
func (p *Page) WaitForRequest(ctx context.Context, m ledger.Matcher, opts poll.Options) (schemas.RequestRecord, error) {
	mark := p.ledger.Len()

	var found schemas.RequestRecord
	pred := func(context.Context) (bool, error) {
		for _, rec := range p.ledger.Since(mark) {
			if m.Match(rec) {
				found = rec
				return true, nil
			}
		}
		return false, nil
	}

	if opts.Times <= 0 && opts.Timeout <= 0 {
		opts.Times = p.cfg.Wait.RequestTimes
	}
	if opts.Interval <= 0 {
		opts.Interval = p.cfg.Wait.RequestInterval
	}

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	if _, err := poll.Wait(opCtx, pred, opts); err != nil {
		return schemas.RequestRecord{}, fmt.Errorf("waiting for request: %w", err)
	}
	return found, nil
}

// WaitForAuthentication polls the evaluator against this page until it
// reports authenticated. See authmon for the outcome contract: timeout is an
// error, cancellation is a verdict.
func (p *Page) WaitForAuthentication(ctx context.Context, evaluator AuthEvaluator, opts poll.Options) (schemas.AuthStatus, error) {
	if evaluator == nil {
		return "", errors.New("page: nil auth evaluator")
	}
	if opts.Timeout <= 0 && opts.Times <= 0 {
		opts.Timeout = p.cfg.Wait.AuthTimeout
	}

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	monitor := authmon.New(p.logger)
	return monitor.WaitForAuthentication(opCtx, func(ctx context.Context) (bool, error) {
		return evaluator(ctx, p)
	}, opts)
}

// Authenticate navigates to startURL and then waits for the evaluator to
// detect authentication.
func (p *Page) Authenticate(ctx context.Context, startURL string, evaluator AuthEvaluator, opts poll.Options) (schemas.AuthStatus, error) {
	if err := p.Navigate(ctx, startURL); err != nil {
		return "", err
	}
	return p.WaitForAuthentication(ctx, evaluator, opts)
}

// selectorDefaults fills the timeout/interval pair used by selector and
// function waits.
func (p *Page) selectorDefaults(opts poll.Options) poll.Options {
	if opts.Timeout <= 0 && opts.Times <= 0 {
		opts.Timeout = p.cfg.Wait.DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = p.cfg.Wait.DefaultInterval
	}
	return opts
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	encoded, err := jsonAPI.MarshalToString(s)
	if err != nil {
		// Strings always marshal; keep a safe fallback anyway.
		return fmt.Sprintf("%q", s)
	}
	return encoded
}

// truthy applies JavaScript truthiness to a JSON-decoded value.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	default:
		// Objects and arrays are truthy, including empty ones.
		return true
	}
}
