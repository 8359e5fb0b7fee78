package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventType discriminates journal records.
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
)

// Event is the shared envelope for every journal record. Events are
// immutable: once appended they are never rewritten or deleted. Unknown or
// malformed records are skipped on replay.
type Event struct {
	Type          EventType       `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	SignalID      string          `json:"signal_id"`
	TS            int64           `json:"ts"` // unix milliseconds
	Payload       json.RawMessage `json:"payload"`
}

// OpenPayload is the position_opened variant.
type OpenPayload struct {
	Slug       string  `json:"slug"`
	Outcome    string  `json:"outcome"`
	TokenID    string  `json:"token_id,omitempty"`
	EntryPrice float64 `json:"entry_price"`
	Notional   float64 `json:"notional"`
	Shares     float64 `json:"shares,omitempty"`
	Sport      string  `json:"sport,omitempty"`
	Gated      bool    `json:"gated,omitempty"` // depth gate passed at entry
}

// ClosePayload is the position_closed variant.
type ClosePayload struct {
	Reason        string  `json:"reason"` // take_profit | stop_loss | resolved | expired
	ExitPrice     float64 `json:"exit_price"`
	PnL           float64 `json:"pnl"`
	ROI           float64 `json:"roi"`
	Won           bool    `json:"won"`
	ResolveMethod string  `json:"resolve_method,omitempty"`
}

// NewSignalID builds the stable per-position identifier from the open
// timestamp (unix ms) and the market slug.
func NewSignalID(openTS int64, slug string) string {
	return fmt.Sprintf("%d|%s", openTS, slug)
}

// SplitSignalID is the best-effort inverse of NewSignalID. ok is false when
// the id does not match the expected <ts>|<slug> shape.
func SplitSignalID(id string) (openTS int64, slug string, ok bool) {
	ts, slug, found := strings.Cut(id, "|")
	if !found || slug == "" {
		return 0, "", false
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, slug, true
}

// NewOpenEvent wraps an OpenPayload in the event envelope.
func NewOpenEvent(signalID string, ts int64, p OpenPayload) (Event, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("domain.NewOpenEvent: %w", err)
	}
	return Event{Type: EventPositionOpened, SchemaVersion: 1, SignalID: signalID, TS: ts, Payload: raw}, nil
}

// NewCloseEvent wraps a ClosePayload in the event envelope.
func NewCloseEvent(signalID string, ts int64, p ClosePayload) (Event, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("domain.NewCloseEvent: %w", err)
	}
	return Event{Type: EventPositionClosed, SchemaVersion: 1, SignalID: signalID, TS: ts, Payload: raw}, nil
}

// Open decodes the payload as an OpenPayload.
func (e Event) Open() (OpenPayload, error) {
	var p OpenPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return OpenPayload{}, fmt.Errorf("domain.Event.Open: %w", err)
	}
	return p, nil
}

// Close decodes the payload as a ClosePayload.
func (e Event) Close() (ClosePayload, error) {
	var p ClosePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ClosePayload{}, fmt.Errorf("domain.Event.Close: %w", err)
	}
	return p, nil
}
