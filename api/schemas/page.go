// api/schemas/page.go
package schemas

import (
	"time"
)

// HeaderMap holds a single logical value per header name. Lookups performed
// by the ledger's header merger are case-insensitive; the map itself stores
// names as observed on the wire.
type HeaderMap map[string]string

// Clone returns an independent copy of the map. A nil receiver yields an
// empty, non-nil map so callers can write to the result.
func (h HeaderMap) Clone() HeaderMap {
	out := make(HeaderMap, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ResponseRecord captures the response half of an intercepted exchange.
type ResponseRecord struct {
	Status  int       `json:"status"`
	Headers HeaderMap `json:"headers"`
	Body    []byte    `json:"body,omitempty"`
}

// RequestRecord is one observed HTTP exchange made by the page. Records are
// immutable once handed to the ledger; ObservedAt comes from the monotonic
// clock so ordering survives wall-clock adjustments.
type RequestRecord struct {
	URL            string         `json:"url"`
	Method         string         `json:"method"`
	RequestHeaders HeaderMap      `json:"requestHeaders"`
	RequestBody    []byte         `json:"requestBody,omitempty"`
	Response       ResponseRecord `json:"response"`
	ObservedAt     time.Time      `json:"observedAt"`
}

// Clone deep-copies the record so the ledger can own its contents.
func (r RequestRecord) Clone() RequestRecord {
	out := r
	out.RequestHeaders = r.RequestHeaders.Clone()
	out.Response.Headers = r.Response.Headers.Clone()
	if r.RequestBody != nil {
		out.RequestBody = append([]byte(nil), r.RequestBody...)
	}
	if r.Response.Body != nil {
		out.Response.Body = append([]byte(nil), r.Response.Body...)
	}
	return out
}

// AuthStatus is the terminal verdict of one authentication wait.
type AuthStatus string

const (
	StatusAuthenticated AuthStatus = "authenticated"
	StatusTimedOut      AuthStatus = "timed_out"
	StatusCancelled     AuthStatus = "cancelled"
)

// Cookie mirrors the fields the embedded browser surface reports for a
// stored cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
}

// ScreenshotOptions controls surface screenshot capture.
type ScreenshotOptions struct {
	Format   string `json:"format"`  // "png" or "jpeg"
	Quality  int    `json:"quality"` // jpeg only, 0-100
	FullPage bool   `json:"fullPage"`
}

// NativeRequest describes an out-of-band HTTP request issued through the
// surface's own network stack rather than the page.
type NativeRequest struct {
	URL     string        `json:"url"`
	Method  string        `json:"method"`
	Headers HeaderMap     `json:"headers,omitempty"`
	Body    []byte        `json:"body,omitempty"`
	Timeout time.Duration `json:"-"`
}

// NativeResponse is the result of a NativeRequest.
type NativeResponse struct {
	Status  int       `json:"status"`
	Headers HeaderMap `json:"headers"`
	Body    []byte    `json:"body,omitempty"`
}
