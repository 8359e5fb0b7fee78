package polymarket

// markets.go — sports market discovery (Gamma) and top-of-book fetch (CLOB).
//
// Book batches run concurrently; the token-bucket limiter in doWithRetry
// paces the goroutines without an explicit semaphore.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

const (
	gammaMarketsPath = "/markets"
	booksPath        = "/books"
	pageSize         = 100
	batchSize        = 20 // max token_ids per /books request
)

// FetchSportsMarkets returns active markets tagged with the configured
// sports. Implements ports.MarketProvider.
func (c *Client) FetchSportsMarkets(ctx context.Context) ([]domain.WatchedMarket, error) {
	var all []domain.WatchedMarket
	seen := make(map[string]bool)

	for _, sport := range c.sports {
		url := fmt.Sprintf("%s%s?tag_slug=%s&active=true&closed=false&limit=%d",
			c.gammaBase, gammaMarketsPath, sport, pageSize)

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
			return nil, fmt.Errorf("polymarket.FetchSportsMarkets: tag %q: %w", sport, err)
		}

		for _, gm := range resp {
			if gm.ConditionID == "" || seen[gm.ConditionID] {
				continue
			}
			m, ok := mapGammaMarket(gm, sport)
			if !ok {
				continue
			}
			seen[gm.ConditionID] = true
			all = append(all, m)
		}
	}

	slog.Debug("sports markets fetched", "total", len(all), "tags", len(c.sports))
	return all, nil
}

// FetchTops returns best bid/ask per token id via the batch books endpoint.
// Implements ports.BookProvider. Missing tokens are absent from the map.
func (c *Client) FetchTops(ctx context.Context, tokenIDs []string) (map[string]domain.PriceUpdate, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.PriceUpdate{}, nil
	}

	batches := splitBatches(tokenIDs, batchSize)

	type batchResult struct {
		tops map[string]domain.PriceUpdate
		err  error
	}
	resultCh := make(chan batchResult, len(batches))

	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			tops, err := c.fetchBooksBatch(ctx, ids)
			resultCh <- batchResult{tops: tops, err: err}
		}(batch)
	}
	wg.Wait()
	close(resultCh)

	out := make(map[string]domain.PriceUpdate, len(tokenIDs))
	var firstErr error
	for res := range resultCh {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		for id, top := range res.tops {
			out[id] = top
		}
	}
	if len(out) == 0 && firstErr != nil {
		return nil, fmt.Errorf("polymarket.FetchTops: %w", firstErr)
	}
	return out, nil
}

func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.PriceUpdate, error) {
	body := make([]bookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = bookRequest{TokenID: id}
	}

	var resp []bookResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[string]domain.PriceUpdate, len(resp))
	for _, book := range resp {
		out[book.AssetID] = domain.PriceUpdate{
			TokenID:   book.AssetID,
			BestBid:   bestPrice(book.Bids, true),
			BestAsk:   bestPrice(book.Asks, false),
			DepthUSDC: askDepth(book.Asks),
			TS:        now,
		}
	}
	return out, nil
}

func askDepth(levels []bookEntryRaw) float64 {
	var depth float64
	for _, lvl := range levels {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		size, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		depth += price * size
	}
	return depth
}

// BookDepth sums the resting USDC near the top of the book on the ask side,
// used by the entry depth gate.
func (c *Client) BookDepth(ctx context.Context, tokenID string) (float64, error) {
	var resp []bookResponse
	body := []bookRequest{{TokenID: tokenID}}
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket.BookDepth: %w", err)
	}
	if len(resp) == 0 {
		return 0, nil
	}
	return askDepth(resp[0].Asks), nil
}

// mapGammaMarket converts a raw Gamma market into a watchlist entry.
// Markets without exactly two outcomes are skipped.
func mapGammaMarket(gm gammaMarket, sport string) (domain.WatchedMarket, bool) {
	var tokenIDs, outcomes []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil || len(tokenIDs) != 2 {
		return domain.WatchedMarket{}, false
	}
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil || len(outcomes) != 2 {
		return domain.WatchedMarket{}, false
	}

	m := domain.WatchedMarket{
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Question:    gm.Question,
		Status:      domain.StatusWatching,
		YesTokenID:  tokenIDs[0],
		NoTokenID:   tokenIDs[1],
		Outcome:     outcomes[0],
		Sport:       sport,
	}
	if gm.EndDateISO != "" {
		if t, err := time.Parse("2006-01-02", gm.EndDateISO); err == nil {
			m.EndDate = t
		} else if t, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
			m.EndDate = t
		}
	}
	return m, true
}

func bestPrice(levels []bookEntryRaw, highest bool) float64 {
	var best float64
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if best == 0 || (highest && p > best) || (!highest && p < best) {
			best = p
		}
	}
	return best
}

func splitBatches(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
