// internal/ledger/ledger.go
// Package ledger is the append-only store of intercepted request/response
// exchanges for one page instance. Records are immutable after insertion and
// every read hands back a snapshot, so listeners appending from network
// events never race with pollers querying mid-wait.
package ledger

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Matcher selects records either by URL substring or by an arbitrary
// predicate. The variant is fixed at construction, not re-inspected per use.
type Matcher struct {
	substr string
	fn     func(schemas.RequestRecord) bool
}

// URLContains matches any record whose URL contains s. This is the default
// semantics for string matchers; hosts routinely pass partial URLs.
func URLContains(s string) Matcher {
	return Matcher{substr: s}
}

// MatchFunc matches records the predicate accepts.
func MatchFunc(fn func(schemas.RequestRecord) bool) Matcher {
	return Matcher{fn: fn}
}

// Match reports whether the record satisfies the matcher.
func (m Matcher) Match(rec schemas.RequestRecord) bool {
	if m.fn != nil {
		return m.fn(rec)
	}
	return strings.Contains(rec.URL, m.substr)
}

// Ledger accumulates records in observation order. No record is ever removed
// or edited; Reset is reserved for page teardown.
type Ledger struct {
	logger *zap.Logger

	// maxEntries is a soft high-water mark. Growth beyond it is logged once
	// per page lifetime but never blocks or evicts, preserving the
	// append-only invariant. Zero disables the warning.
	maxEntries int

	mu      sync.Mutex
	records []schemas.RequestRecord
	warned  bool
}

// New creates an empty ledger.
func New(logger *zap.Logger, maxEntries int) *Ledger {
	return &Ledger{
		logger:     logger.Named("ledger"),
		maxEntries: maxEntries,
	}
}

// Record appends one exchange. The record is deep-copied so later mutation
// by the caller cannot reach stored state. ObservedAt is stamped from the
// monotonic clock when the caller left it zero.
func (l *Ledger) Record(rec schemas.RequestRecord) {
	owned := rec.Clone()
	if owned.ObservedAt.IsZero() {
		owned.ObservedAt = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, owned)
	if l.maxEntries > 0 && len(l.records) > l.maxEntries && !l.warned {
		l.warned = true
		l.logger.Warn("Request ledger exceeded its configured high-water mark.",
			zap.Int("max_entries", l.maxEntries))
	}
}

// Len reports the number of recorded exchanges.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// All returns a snapshot of every record in observation order. Records are
// deep-copied; mutating the returned slice or its maps does not affect the
// ledger.
func (l *Ledger) All() []schemas.RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneRecords(l.records)
}

// Since returns a snapshot of the records appended at or after index n.
// Waits use the pre-wait length here so stale traffic can never satisfy a
// request wait issued later.
func (l *Ledger) Since(n int) []schemas.RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= len(l.records) {
		return nil
	}
	return cloneRecords(l.records[n:])
}

// Find returns the first record the matcher accepts, in observation order.
func (l *Ledger) Find(m Matcher) (schemas.RequestRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if m.Match(rec) {
			return rec.Clone(), true
		}
	}
	return schemas.RequestRecord{}, false
}

// Filter returns all matching records in observation order.
func (l *Ledger) Filter(m Matcher) []schemas.RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []schemas.RequestRecord
	for _, rec := range l.records {
		if m.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// MergedHeaders folds the request headers of every matching record in
// observation order into a single map: for a header present on several
// matched records, the most recently observed value wins. Header names are
// lowercased so the same logical header under different casing collapses to
// one entry. No matches yields an empty map.
func (l *Ledger) MergedHeaders(m Matcher) schemas.HeaderMap {
	merged := make(schemas.HeaderMap)
	for _, rec := range l.Filter(m) {
		for name, value := range rec.RequestHeaders {
			merged[strings.ToLower(name)] = value
		}
	}
	return merged
}

// cloneRecords deep-copies a run of records so read-side snapshots never
// share header maps or body slices with stored state.
func cloneRecords(records []schemas.RequestRecord) []schemas.RequestRecord {
	out := make([]schemas.RequestRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}

// Reset discards all records. Called only when the owning page is closed or
// reused for a fresh navigation lifetime.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
	l.warned = false
}
