// internal/page/cdp/pump.go
package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/events"
)

const bodyFetchTimeout = 15 * time.Second

// exchange tracks one network request through its DevTools lifecycle.
type exchange struct {
	request  *network.Request
	response *network.Response
}

// pump listens to raw DevTools events on a tab and republishes them as the
// typed events the core understands. Completed exchanges are announced as
// EventResponse carrying a full RequestRecord; the page's ledger listener
// records them from there.
type pump struct {
	tabCtx context.Context
	bus    *events.Bus
	logger *zap.Logger

	captureBodies bool

	mu          sync.Mutex
	inflight    map[network.RequestID]*exchange
	mainFrameID cdp.FrameID

	cancelListen context.CancelFunc
	bodyWG       sync.WaitGroup
}

func newPump(tabCtx context.Context, bus *events.Bus, logger *zap.Logger, captureBodies bool) *pump {
	return &pump{
		tabCtx:        tabCtx,
		bus:           bus,
		logger:        logger.Named("pump"),
		captureBodies: captureBodies,
		inflight:      make(map[network.RequestID]*exchange),
	}
}

func (p *pump) start() {
	listenCtx, cancel := context.WithCancel(p.tabCtx)
	p.cancelListen = cancel

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			p.handleRequestWillBeSent(e)
		case *network.EventResponseReceived:
			p.handleResponseReceived(e)
		case *network.EventLoadingFinished:
			p.handleLoadingFinished(e)
		case *network.EventLoadingFailed:
			p.handleLoadingFailed(e)
		case *cdppage.EventFrameNavigated:
			p.handleFrameNavigated(e)
		case *cdppage.EventLifecycleEvent:
			p.handleLifecycleEvent(e)
		}
	})

	p.logger.Debug("Event pump attached.")
}

// stop detaches the listener and waits for pending body fetches, giving up
// when ctx expires.
func (p *pump) stop(ctx context.Context) {
	if p.cancelListen != nil {
		p.cancelListen()
		p.cancelListen = nil
	}

	done := make(chan struct{})
	go func() {
		p.bodyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Pump stopped before all response bodies were fetched.")
	}
}

// -- Network events --

func (p *pump) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	p.mu.Lock()

	// A redirect reuses the request ID; the previous leg is complete once the
	// redirect response shows up.
	if e.RedirectResponse != nil {
		if prev, ok := p.inflight[e.RequestID]; ok {
			prev.response = e.RedirectResponse
			rec := p.assembleLocked(prev)
			delete(p.inflight, e.RequestID)
			p.mu.Unlock()
			p.bus.Emit(schemas.EventResponse, rec)
			p.mu.Lock()
		}
	}

	p.inflight[e.RequestID] = &exchange{
		request: e.Request,
	}
	p.mu.Unlock()

	p.bus.Emit(schemas.EventRequest, schemas.RequestObservation{
		URL:     e.Request.URL,
		Method:  e.Request.Method,
		Headers: convertHeaders(e.Request.Headers),
	})
}

func (p *pump) handleResponseReceived(e *network.EventResponseReceived) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ex, ok := p.inflight[e.RequestID]; ok {
		ex.response = e.Response
	}
}

func (p *pump) handleLoadingFinished(e *network.EventLoadingFinished) {
	p.mu.Lock()
	ex, ok := p.inflight[e.RequestID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inflight, e.RequestID)
	rec := p.assembleLocked(ex)
	fetchBody := p.captureBodies && ex.response != nil && isTextMime(ex.response.MimeType)
	p.mu.Unlock()

	if fetchBody {
		p.bodyWG.Add(1)
		go p.fetchBodyAndEmit(e.RequestID, rec)
		return
	}
	p.bus.Emit(schemas.EventResponse, rec)
}

func (p *pump) handleLoadingFailed(e *network.EventLoadingFailed) {
	p.mu.Lock()
	ex, ok := p.inflight[e.RequestID]
	delete(p.inflight, e.RequestID)
	p.mu.Unlock()

	if !ok || ex.request == nil {
		return
	}

	if e.BlockedReason != "" {
		p.bus.Emit(schemas.EventHostBlocked, schemas.HostBlocked{
			URL:    ex.request.URL,
			Reason: string(e.BlockedReason),
		})
		return
	}

	p.logger.Debug("Request failed before completion.",
		zap.String("url", ex.request.URL),
		zap.String("error", e.ErrorText))
}

// fetchBodyAndEmit pulls the response body over CDP before announcing the
// completed exchange. Runs in its own goroutine; the body is best-effort.
func (p *pump) fetchBodyAndEmit(id network.RequestID, rec schemas.RequestRecord) {
	defer p.bodyWG.Done()

	if p.tabCtx.Err() == nil {
		ctx, cancel := context.WithTimeout(p.tabCtx, bodyFetchTimeout)
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
			body, err := network.GetResponseBody(id).Do(c)
			if err != nil {
				return err
			}
			rec.Response.Body = body
			return nil
		}))
		cancel()
		if err != nil && p.tabCtx.Err() == nil {
			p.logger.Debug("Failed to fetch response body.", zap.String("request_id", string(id)), zap.Error(err))
		}
	}

	// The fetch delayed the announcement; other exchanges may have landed in
	// the meantime. Re-stamp so the record's time matches its emission.
	rec.ObservedAt = time.Now()
	p.bus.Emit(schemas.EventResponse, rec)
}

// assembleLocked builds the immutable record for a finished exchange. The
// caller holds p.mu. ObservedAt is stamped here, at announcement time, so
// ledger insertion order never runs against the clock.
func (p *pump) assembleLocked(ex *exchange) schemas.RequestRecord {
	rec := schemas.RequestRecord{
		ObservedAt: time.Now(),
	}

	if req := ex.request; req != nil {
		rec.URL = req.URL
		rec.Method = req.Method
		rec.RequestHeaders = convertHeaders(req.Headers)
		if req.HasPostData && len(req.PostDataEntries) > 0 {
			var b strings.Builder
			for _, entry := range req.PostDataEntries {
				b.WriteString(entry.Bytes)
			}
			rec.RequestBody = []byte(b.String())
		}
	}
	if resp := ex.response; resp != nil {
		rec.Response = schemas.ResponseRecord{
			Status:  int(resp.Status),
			Headers: convertHeaders(resp.Headers),
		}
	}
	return rec
}

// -- Page lifecycle events --

func (p *pump) handleFrameNavigated(e *cdppage.EventFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}

	p.mu.Lock()
	p.mainFrameID = e.Frame.ID
	p.mu.Unlock()

	p.bus.Emit(schemas.EventLocationChange, schemas.LocationChange{URL: e.Frame.URL})
}

func (p *pump) handleLifecycleEvent(e *cdppage.EventLifecycleEvent) {
	p.mu.Lock()
	mainFrame := p.mainFrameID == "" || e.FrameID == p.mainFrameID
	p.mu.Unlock()
	if !mainFrame {
		return
	}

	switch e.Name {
	case "init":
		p.bus.Emit(schemas.EventStarted, nil)
	case "DOMContentLoaded":
		p.bus.Emit(schemas.EventDOMChange, nil)
	case "load":
		p.bus.Emit(schemas.EventFinished, nil)
	}
}

// -- Conversion helpers --

// convertHeaders flattens DevTools headers into the record's map form. CDP
// joins multi-value headers with newlines; the first value wins there.
func convertHeaders(headers network.Headers) schemas.HeaderMap {
	out := make(schemas.HeaderMap, len(headers))
	for name, value := range headers {
		switch v := value.(type) {
		case string:
			out[name] = strings.Split(v, "\n")[0]
		default:
			out[name] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// isTextMime reports whether a response body is worth capturing.
func isTextMime(mime string) bool {
	mime = strings.ToLower(mime)
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch {
	case strings.Contains(mime, "json"),
		strings.Contains(mime, "xml"),
		strings.Contains(mime, "javascript"),
		strings.Contains(mime, "x-www-form-urlencoded"):
		return true
	}
	return false
}
