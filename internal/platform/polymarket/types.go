package polymarket

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString accepts a JSON string or number and keeps its text. Large token
// ids sent as bare numbers keep every digit.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(string(data))
	return nil
}

// flexFloat accepts a JSON number or a numeric string. Unparseable values
// decode as zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// stringList decodes the shapes the Gamma API uses for list fields: a JSON
// array (of strings or numbers), a string holding a JSON array, or plain
// comma separated text.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		switch {
		case raw == "":
			*s = nil
			return nil
		case strings.HasPrefix(raw, "["):
			return s.UnmarshalJSON([]byte(raw))
		default:
			var vals []string
			for _, part := range strings.Split(raw, ",") {
				if p := strings.Trim(strings.TrimSpace(part), `"'`); p != "" {
					vals = append(vals, p)
				}
			}
			*s = vals
			return nil
		}
	}

	var items []flexString
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	vals := make([]string, 0, len(items))
	for _, it := range items {
		vals = append(vals, string(it))
	}
	*s = vals
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is an event as returned by the Gamma API. An event groups one or
// more markets.
type APIEvent struct {
	ID      flexString  `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	EndDate string      `json:"endDate"`
	Markets []APIMarket `json:"markets"`
}

// PickMarket returns the market whose slug equals slug, else the first one.
func (e *APIEvent) PickMarket(slug string) (APIMarket, bool) {
	for i := range e.Markets {
		if strings.TrimSpace(e.Markets[i].Slug) == slug {
			return e.Markets[i], true
		}
	}
	if len(e.Markets) == 0 {
		return APIMarket{}, false
	}
	return e.Markets[0], true
}

// APIMarket is a market as returned by the Gamma API. The token id field has
// been renamed across API versions, so every known spelling is decoded.
type APIMarket struct {
	ID              flexString `json:"id"`
	Question        string     `json:"question"`
	Slug            string     `json:"slug"`
	ConditionID     string     `json:"conditionId"`
	ConditionIDAlt  string     `json:"condition_id"`
	Outcomes        stringList `json:"outcomes"`
	OutcomePrices   stringList `json:"outcomePrices"`
	ClobTokenIDs    stringList `json:"clobTokenIds"`
	ClobTokenIDsAlt stringList `json:"clob_token_ids"`
	TokenIDs        stringList `json:"tokenIds"`
	OutcomeTokenIDs stringList `json:"outcomeTokenIds"`
	Tokens          []APIToken `json:"tokens"`
	Active          flexBool   `json:"active"`
	Closed          flexBool   `json:"closed"`
	AcceptingOrders *flexBool  `json:"acceptingOrders"`
	EndDate         string     `json:"endDate"`
	EndDateISO      string     `json:"end_date_iso"`
}

// APIToken is a token entry inside a market response.
type APIToken struct {
	TokenID      flexString `json:"token_id"`
	TokenIDCamel flexString `json:"tokenId"`
	ID           flexString `json:"id"`
	Outcome      string     `json:"outcome"`
	Price        flexFloat  `json:"price"`
	Winner       bool       `json:"winner"`
}

func (t APIToken) id() string {
	for _, v := range []flexString{t.TokenID, t.TokenIDCamel, t.ID} {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// tokenIDs returns the first non-empty token id list among the known field
// spellings.
func (m *APIMarket) tokenIDs() []string {
	for _, list := range []stringList{m.ClobTokenIDs, m.ClobTokenIDsAlt, m.TokenIDs, m.OutcomeTokenIDs} {
		if ids := compact(list); len(ids) > 0 {
			return ids
		}
	}
	var ids []string
	for _, t := range m.Tokens {
		if id := t.id(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func compact(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ToDomainMarket converts the DTO into a domain.Market. Missing fields stay
// empty; callers run Market.Validate before trading.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          string(m.ID),
		Question:    m.Question,
		Slug:        strings.TrimSpace(m.Slug),
		ConditionID: m.ConditionID,
		FetchedAt:   time.Now(),
	}
	if dm.ConditionID == "" {
		dm.ConditionID = m.ConditionIDAlt
	}

	for i, id := range m.tokenIDs() {
		if i >= 2 {
			break
		}
		dm.TokenIDs[i] = id
	}

	outcomes := compact(m.Outcomes)
	if len(outcomes) == 0 {
		for _, t := range m.Tokens {
			outcomes = append(outcomes, t.Outcome)
		}
	}
	for i := 0; i < len(outcomes) && i < 2; i++ {
		dm.Outcomes[i] = outcomes[i]
	}

	prices := compact(m.OutcomePrices)
	for i := 0; i < len(prices) && i < 2; i++ {
		dm.OutcomePrices[i] = parsePrice(prices[i])
	}
	if len(prices) == 0 {
		for i, t := range m.Tokens {
			if i >= 2 {
				break
			}
			if p := float64(t.Price); p > 0 && p <= 1 {
				dm.OutcomePrices[i] = p
			}
		}
	}

	switch {
	case bool(m.Closed):
		dm.Status = domain.MarketStatusClosed
	case bool(m.Active):
		dm.Status = domain.MarketStatusActive
	default:
		dm.Status = domain.MarketStatusSettled
	}
	if m.AcceptingOrders != nil && !bool(*m.AcceptingOrders) && dm.Status == domain.MarketStatusActive {
		dm.Status = domain.MarketStatusClosed
	}

	for _, raw := range []string{m.EndDate, m.EndDateISO} {
		if t, ok := parseTime(raw); ok {
			dm.EndDate = &t
			break
		}
	}
	return dm
}

// SearchResponse is the body of GET /public-search.
type SearchResponse struct {
	Events []APIEvent `json:"events"`
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBook is the body of GET /book.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp flexString     `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// APIOrderResult is the response from placing an order.
type APIOrderResult struct {
	Success      bool       `json:"success"`
	ErrorMsg     string     `json:"errorMsg,omitempty"`
	OrderID      string     `json:"orderID,omitempty"`
	Status       string     `json:"status,omitempty"`
	MakingAmount flexString `json:"makingAmount,omitempty"`
	TakingAmount flexString `json:"takingAmount,omitempty"`
	TxHashes     []string   `json:"transactionsHashes,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	result := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}
	result.MakingAmount, _ = strconv.ParseFloat(string(r.MakingAmount), 64)
	result.TakingAmount, _ = strconv.ParseFloat(string(r.TakingAmount), 64)

	switch strings.ToLower(r.Status) {
	case "live", "open":
		result.Status = domain.OrderStatusOpen
	case "matched":
		result.Status = domain.OrderStatusMatched
	case "delayed", "unmatched":
		result.Status = domain.OrderStatusPending
	default:
		if r.Success {
			result.Status = domain.OrderStatusPending
		} else {
			result.Status = domain.OrderStatusFailed
		}
	}
	return result
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage is a full orderbook snapshot on the market channel.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp flexString     `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries level updates. Older frames put one change at
// the top level; newer frames list them in price_changes.
type PriceChangeMessage struct {
	EventType string             `json:"event_type"`
	AssetID   string             `json:"asset_id"`
	Market    string             `json:"market"`
	Side      string             `json:"side"`
	Price     string             `json:"price"`
	Size      string             `json:"size"`
	Timestamp flexString         `json:"timestamp"`
	Changes   []PriceChangeEntry `json:"price_changes"`
}

// PriceChangeEntry is one level update inside a price_change frame.
type PriceChangeEntry struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// PriceMessage is the most recent trade price for an asset.
type PriceMessage struct {
	EventType string     `json:"event_type"`
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Price     string     `json:"price"`
	Size      string     `json:"size"`
	Timestamp flexString `json:"timestamp"`
}

// WSSubscribe is the initial subscription frame of the market channel.
type WSSubscribe struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// BookToDomainSnapshot converts a book payload to a domain.OrderbookSnapshot.
func BookToDomainSnapshot(assetID, market string, bids, asks []WSPriceLevel, ts flexString) domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID:   assetID,
		Market:    market,
		Timestamp: parseTimestamp(ts),
	}
	for _, lvl := range bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: p, Size: s})
		if p > snap.BestBid {
			snap.BestBid = p
		}
	}
	for _, lvl := range asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: p, Size: s})
		if p > 0 && (snap.BestAsk == 0 || p < snap.BestAsk) {
			snap.BestAsk = p
		}
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
	}
	return snap
}

// PriceChangesToDomain flattens a price_change frame.
func PriceChangesToDomain(p *PriceChangeMessage) []domain.PriceChange {
	ts := parseTimestamp(p.Timestamp)
	if len(p.Changes) == 0 {
		pc := domain.PriceChange{AssetID: p.AssetID, Side: p.Side, Timestamp: ts}
		pc.Price, _ = strconv.ParseFloat(p.Price, 64)
		pc.Size, _ = strconv.ParseFloat(p.Size, 64)
		return []domain.PriceChange{pc}
	}
	out := make([]domain.PriceChange, 0, len(p.Changes))
	for _, c := range p.Changes {
		pc := domain.PriceChange{AssetID: c.AssetID, Side: c.Side, Timestamp: ts}
		if pc.AssetID == "" {
			pc.AssetID = p.AssetID
		}
		pc.Price, _ = strconv.ParseFloat(c.Price, 64)
		pc.Size, _ = strconv.ParseFloat(c.Size, 64)
		pc.BestBid, _ = strconv.ParseFloat(c.BestBid, 64)
		pc.BestAsk, _ = strconv.ParseFloat(c.BestAsk, 64)
		out = append(out, pc)
	}
	return out
}

// PriceToDomainLastTrade converts a PriceMessage to a domain.LastTradePrice.
func PriceToDomainLastTrade(p *PriceMessage) domain.LastTradePrice {
	ltp := domain.LastTradePrice{AssetID: p.AssetID, Timestamp: parseTimestamp(p.Timestamp)}
	ltp.Price, _ = strconv.ParseFloat(p.Price, 64)
	ltp.Size, _ = strconv.ParseFloat(p.Size, 64)
	return ltp
}

// parsePrice parses an outcome price, returning 0 for anything outside (0,1].
func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || v <= 0 || v > 1 {
		return 0
	}
	return v
}

// parseTimestamp accepts unix seconds or milliseconds, or RFC3339.
func parseTimestamp(ts flexString) time.Time {
	raw := strings.TrimSpace(string(ts))
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, ok := parseTime(raw); ok {
		return t
	}
	return time.Now()
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
