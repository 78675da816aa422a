// api/schemas/events.go
package schemas

// EventName identifies one of the typed events relayed from the embedded
// browser surface to host listener registrations.
type EventName string

// Lifecycle and navigation events delivered by the event bridge.
const (
	EventClose          EventName = "close"
	EventClosed         EventName = "closed"
	EventDispatch       EventName = "dispatch"
	EventStarted        EventName = "started"
	EventFinished       EventName = "finished"
	EventLocationChange EventName = "locationchange"
	EventDOMChange      EventName = "domchange"
	EventHostBlocked    EventName = "hostblocked"
)

// Raw network observation events. The request ledger subscribes to these;
// EventRequest carries a RequestObservation, EventResponse a completed
// RequestRecord.
const (
	EventRequest  EventName = "request"
	EventResponse EventName = "response"
)

// RequestObservation is the payload of EventRequest: the request half of an
// exchange, announced before any response exists.
type RequestObservation struct {
	URL     string    `json:"url"`
	Method  string    `json:"method"`
	Headers HeaderMap `json:"headers"`
}

// LocationChange is the payload of EventLocationChange.
type LocationChange struct {
	URL string `json:"url"`
}

// HostBlocked is the payload of EventHostBlocked: a load the surface refused
// because its host is on the block list.
type HostBlocked struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}
