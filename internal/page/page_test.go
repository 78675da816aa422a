package page

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/ledger"
	"github.com/xkilldash9x/webpilot/internal/poll"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSurface scripts the embedded browser surface for façade tests.
type fakeSurface struct {
	mu         sync.Mutex
	navigated  []string
	currentURL string
	evaluate   func(script string, args []any, res any) error
	clicks     []string
	closed     bool
}

func (f *fakeSurface) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	f.currentURL = url
	return nil
}

func (f *fakeSurface) Evaluate(_ context.Context, script string, args []any, res any) error {
	f.mu.Lock()
	fn := f.evaluate
	f.mu.Unlock()
	if fn == nil {
		return errors.New("fakeSurface: no evaluate script configured")
	}
	return fn(script, args, res)
}

func (f *fakeSurface) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, nil
}

func (f *fakeSurface) Show(context.Context) error { return nil }
func (f *fakeSurface) Hide(context.Context) error { return nil }

func (f *fakeSurface) Screenshot(context.Context, schemas.ScreenshotOptions) ([]byte, error) {
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (f *fakeSurface) Cookies(context.Context, string) ([]schemas.Cookie, error) {
	return []schemas.Cookie{{Name: "sid", Value: "abc", Domain: "a.com"}}, nil
}

func (f *fakeSurface) Click(_ context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeSurface) Input(context.Context, string, string) error { return nil }

func (f *fakeSurface) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestPage(t *testing.T, surface Surface) *Page {
	t.Helper()
	cfg := config.Default()
	cfg.Wait.DefaultTimeout = 2 * time.Second
	cfg.Wait.DefaultInterval = 10 * time.Millisecond
	cfg.Wait.RequestTimes = 5
	cfg.Wait.RequestInterval = 20 * time.Millisecond
	cfg.Wait.AuthTimeout = 2 * time.Second

	p, err := New(context.Background(), cfg, surface, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func emitExchange(p *Page, url string, headers schemas.HeaderMap) {
	p.Bus().Emit(schemas.EventResponse, schemas.RequestRecord{
		URL:            url,
		Method:         "GET",
		RequestHeaders: headers,
		Response:       schemas.ResponseRecord{Status: 200},
	})
}

func TestPage_LedgerIngestsResponseEvents(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})

	emitExchange(p, "https://a.com/x", schemas.HeaderMap{"Authorization": "t1"})
	emitExchange(p, "https://a.com/y", schemas.HeaderMap{"Authorization": "t2"})

	recs := p.GetRequests()
	require.Len(t, recs, 2)
	assert.Equal(t, "https://a.com/x", recs[0].URL)
}

func TestPage_GetRequestsSnapshot(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})
	emitExchange(p, "https://a.com/x", nil)

	snap := p.GetRequests()
	snap[0].URL = "https://tampered.example"

	assert.Equal(t, "https://a.com/x", p.GetRequests()[0].URL)
}

func TestPage_GetRequestHeadersMostRecentWins(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})
	emitExchange(p, "https://a.com/x", schemas.HeaderMap{"Authorization": "t1"})
	emitExchange(p, "https://a.com/y", schemas.HeaderMap{"Authorization": "t2"})

	headers := p.GetRequestHeaders(ledger.URLContains("a.com"))
	assert.Equal(t, schemas.HeaderMap{"authorization": "t2"}, headers)
}

func TestPage_WaitForSelector(t *testing.T) {
	checks := 0
	surface := &fakeSurface{}
	surface.evaluate = func(script string, _ []any, res any) error {
		assert.Contains(t, script, `document.querySelector("#login-done")`)
		checks++
		*(res.(*bool)) = checks >= 3
		return nil
	}
	p := newTestPage(t, surface)

	err := p.WaitForSelector(context.Background(), "#login-done", poll.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, checks)
}

func TestPage_WaitForSelectorTimeout(t *testing.T) {
	surface := &fakeSurface{}
	surface.evaluate = func(_ string, _ []any, res any) error {
		*(res.(*bool)) = false
		return nil
	}
	p := newTestPage(t, surface)

	err := p.WaitForSelector(context.Background(), "#never", poll.Options{
		Timeout:  60 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	})
	var te *poll.TimeoutError
	require.ErrorAs(t, err, &te)
}

func TestPage_WaitForFunctionTruthiness(t *testing.T) {
	results := []any{nil, float64(0), "", "ready"}
	idx := 0
	surface := &fakeSurface{}
	surface.evaluate = func(_ string, args []any, res any) error {
		require.Equal(t, []any{"arg-1"}, args)
		*(res.(*any)) = results[idx]
		idx++
		return nil
	}
	p := newTestPage(t, surface)

	err := p.WaitForFunction(context.Background(), "(s) => window.state === s", poll.Options{}, "arg-1")
	require.NoError(t, err)
	assert.Equal(t, 4, idx, "falsy results keep the wait polling")
}

func TestPage_WaitForFunctionErrorAborts(t *testing.T) {
	boom := errors.New("ReferenceError: nope")
	surface := &fakeSurface{}
	surface.evaluate = func(string, []any, any) error { return boom }
	p := newTestPage(t, surface)

	err := p.WaitForFunction(context.Background(), "nope()", poll.Options{})
	require.ErrorIs(t, err, boom)
	var te *poll.TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestPage_WaitForRequestIgnoresStaleTraffic(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})

	// Matching traffic recorded before the wait starts must not satisfy it.
	emitExchange(p, "https://a.com/token", schemas.HeaderMap{"Authorization": "stale"})

	done := make(chan struct{})
	var rec schemas.RequestRecord
	var waitErr error
	go func() {
		defer close(done)
		rec, waitErr = p.WaitForRequest(context.Background(), ledger.URLContains("/token"), poll.Options{
			Times:    20,
			Interval: 10 * time.Millisecond,
		})
	}()

	time.Sleep(30 * time.Millisecond)
	emitExchange(p, "https://b.com/other", nil) // unrelated; must not resolve the wait
	emitExchange(p, "https://a.com/token", schemas.HeaderMap{"Authorization": "fresh"})

	select {
	case <-done:
		require.NoError(t, waitErr)
		assert.Equal(t, "fresh", rec.RequestHeaders["Authorization"])
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not resolve on fresh matching traffic")
	}
}

func TestPage_WaitForRequestTimesOutWithoutMatch(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})

	_, err := p.WaitForRequest(context.Background(), ledger.URLContains("/never"), poll.Options{
		Times:    3,
		Interval: 5 * time.Millisecond,
	})
	var te *poll.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
}

func TestPage_Authenticate(t *testing.T) {
	surface := &fakeSurface{}
	p := newTestPage(t, surface)

	checks := 0
	status, err := p.Authenticate(context.Background(), "https://a.com/login",
		func(ctx context.Context, p *Page) (bool, error) {
			checks++
			url, err := p.CurrentURL(ctx)
			if err != nil {
				return false, err
			}
			return checks >= 2 && url == "https://a.com/login", nil
		},
		poll.Options{Timeout: time.Second, Interval: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, schemas.StatusAuthenticated, status)
	assert.Equal(t, []string{"https://a.com/login"}, surface.navigated)
}

func TestPage_AuthenticateTimeout(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})
	start := time.Now()

	status, err := p.Authenticate(context.Background(), "https://a.com/login",
		func(context.Context, *Page) (bool, error) { return false, nil },
		poll.Options{Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond})

	assert.Equal(t, schemas.StatusTimedOut, status)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestPage_CloseCancelsInFlightWait(t *testing.T) {
	surface := &fakeSurface{}
	p := newTestPage(t, surface)

	type outcome struct {
		status schemas.AuthStatus
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		status, err := p.WaitForAuthentication(context.Background(),
			func(context.Context, *Page) (bool, error) { return false, nil },
			poll.Options{Timeout: 10 * time.Second, Interval: 10 * time.Millisecond})
		done <- outcome{status, err}
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Close(context.Background()))

	select {
	case out := <-done:
		require.NoError(t, out.err, "page teardown is a Cancelled verdict, not a timeout error")
		assert.Equal(t, schemas.StatusCancelled, out.status)
	case <-time.After(time.Second):
		t.Fatal("close was not observed by the in-flight wait")
	}
	assert.True(t, surface.closed)
	assert.Empty(t, p.GetRequests(), "ledger is cleared on close")
}

func TestPage_CloseEmitsLifecycleEvents(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})

	var order []string
	p.On(schemas.EventClose, func(any) { order = append(order, "close") })
	p.On(schemas.EventClosed, func(any) { order = append(order, "closed") })

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, []string{"close", "closed"}, order)

	// Idempotent: a second close emits nothing further.
	require.NoError(t, p.Close(context.Background()))
	assert.Len(t, order, 2)
}

func TestPage_EventRelayToHostListeners(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})

	var locations []string
	p.On(schemas.EventLocationChange, func(payload any) {
		if lc, ok := payload.(schemas.LocationChange); ok {
			locations = append(locations, lc.URL)
		}
	})

	p.Bus().Emit(schemas.EventLocationChange, schemas.LocationChange{URL: "https://a.com/next"})
	assert.Equal(t, []string{"https://a.com/next"}, locations)
}

func TestPage_DispatchReachesListeners(t *testing.T) {
	p := newTestPage(t, &fakeSurface{})

	var got any
	p.On(schemas.EventDispatch, func(payload any) { got = payload })

	p.Dispatch("refresh-session")
	assert.Equal(t, "refresh-session", got)
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero", float64(0), false},
		{"number", float64(3), true},
		{"empty string", "", false},
		{"string", "x", true},
		{"object", map[string]any{}, true},
		{"array", []any{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, truthy(tc.in))
		})
	}
}
