package feed

// ws.go — realtime CLOB market-channel feed.
//
// The feed only enqueues price updates; the watcher drains the queue at the
// top of each cycle. This keeps the snapshot document single-writer even
// though the socket reader runs on its own goroutine. When the queue is
// full the oldest update is dropped; the next poll cycle refreshes prices
// anyway.

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

const (
	reconnectWait = 2 * time.Second
	queueSize     = 1024
)

// Feed maintains a websocket subscription to the CLOB market channel.
type Feed struct {
	url     string
	updates chan domain.PriceUpdate
}

// New returns a Feed for the given websocket URL.
func New(url string) *Feed {
	return &Feed{
		url:     url,
		updates: make(chan domain.PriceUpdate, queueSize),
	}
}

// Updates exposes the queue the watcher drains each cycle.
func (f *Feed) Updates() <-chan domain.PriceUpdate {
	return f.updates
}

// Run connects, subscribes to the given asset ids, and pumps messages until
// ctx is cancelled. Reconnects with a fixed wait on disconnect.
func (f *Feed) Run(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		slog.Info("feed: no assets to subscribe, skipping")
		return nil
	}

	for {
		if err := f.runConnection(ctx, assetIDs); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("feed disconnected, reconnecting", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

func (f *Feed) runConnection(ctx context.Context, assetIDs []string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{"type": "market", "assets_ids": assetIDs}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	slog.Info("feed subscribed", "assets", len(assetIDs))

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(msg)
	}
}

// wsBookMsg is the market-channel book message. Only the fields the watcher
// needs are decoded.
type wsBookMsg struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Bids      []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

func (f *Feed) handleMessage(msg []byte) {
	var book wsBookMsg
	if err := json.Unmarshal(msg, &book); err != nil {
		return
	}
	if book.EventType != "book" || book.AssetID == "" {
		return
	}

	up := domain.PriceUpdate{TokenID: book.AssetID, TS: time.Now()}
	for _, b := range book.Bids {
		if p, err := strconv.ParseFloat(b.Price, 64); err == nil && p > up.BestBid {
			up.BestBid = p
		}
	}
	for _, a := range book.Asks {
		p, err := strconv.ParseFloat(a.Price, 64)
		if err != nil {
			continue
		}
		if up.BestAsk == 0 || p < up.BestAsk {
			up.BestAsk = p
		}
	}

	select {
	case f.updates <- up:
	default:
		// Queue full: drop the oldest so fresh prices win.
		select {
		case <-f.updates:
		default:
		}
		select {
		case f.updates <- up:
		default:
		}
	}
}
