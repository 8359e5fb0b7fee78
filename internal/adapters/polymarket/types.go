package polymarket

import "encoding/json"

// Raw API DTOs, used only inside this package. Conversion to domain
// entities happens in markets.go.

// --- Gamma API ---

// gammaMarketsResponse is the GET /markets response.
type gammaMarketsResponse []gammaMarket

// gammaMarket is one market's metadata. Gamma returns several numeric
// fields as JSON strings; json.Number keeps the precision.
type gammaMarket struct {
	ConditionID   string      `json:"conditionId"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	EndDateISO    string      `json:"endDateIso"`
	Liquidity     json.Number `json:"liquidity"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
	ClobTokenIDs  string      `json:"clobTokenIds"` // JSON-encoded string array
	Outcomes      string      `json:"outcomes"`     // JSON-encoded string array
	OutcomePrices string      `json:"outcomePrices"`
}

// --- CLOB API ---

// bookRequest is one item of the POST /books batch body.
type bookRequest struct {
	TokenID string `json:"token_id"`
}

// bookResponse is one orderbook in the POST /books reply.
type bookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw is one raw price level (strings for precision).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
