package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

func decodeMarket(t *testing.T, raw string) domain.Market {
	t.Helper()
	var m APIMarket
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m.ToDomainMarket()
}

func TestTokenIDFieldSpellings(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"clobTokenIds string-encoded", `{"slug":"eth","clobTokenIds":"[\"111\",\"222\"]"}`},
		{"clobTokenIds array", `{"slug":"eth","clobTokenIds":["111","222"]}`},
		{"clob_token_ids", `{"slug":"eth","clob_token_ids":"[\"111\",\"222\"]"}`},
		{"tokenIds numbers", `{"slug":"eth","tokenIds":[111,222]}`},
		{"outcomeTokenIds", `{"slug":"eth","outcomeTokenIds":["111","222"]}`},
		{"tokens token_id", `{"slug":"eth","tokens":[{"token_id":"111","outcome":"Up"},{"token_id":"222","outcome":"Down"}]}`},
		{"tokens tokenId", `{"slug":"eth","tokens":[{"tokenId":"111"},{"tokenId":"222"}]}`},
		{"tokens id", `{"slug":"eth","tokens":[{"id":111},{"id":222}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := decodeMarket(t, tc.raw)
			if m.TokenIDs != [2]string{"111", "222"} {
				t.Fatalf("token ids: got %v want [111 222]", m.TokenIDs)
			}
			if err := m.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}

func TestFirstNonEmptySpellingWins(t *testing.T) {
	m := decodeMarket(t, `{"clobTokenIds":"","tokenIds":["7","8"],"tokens":[{"token_id":"1"},{"token_id":"2"}]}`)
	if m.TokenIDs != [2]string{"7", "8"} {
		t.Fatalf("token ids: got %v want [7 8]", m.TokenIDs)
	}
}

func TestOutcomesAndPrices(t *testing.T) {
	m := decodeMarket(t, `{
		"id":"42","slug":"eth-updown-15m-1","conditionId":"0xabc",
		"outcomes":"[\"Up\",\"Down\"]","outcomePrices":"[\"0.45\",\"0.55\"]",
		"clobTokenIds":"[\"1\",\"2\"]","active":"true","closed":false,
		"endDate":"2026-10-16T12:15:00Z"}`)
	if m.ID != "42" || m.ConditionID != "0xabc" {
		t.Fatalf("ids: got %q %q", m.ID, m.ConditionID)
	}
	if m.Outcomes != [2]string{"Up", "Down"} {
		t.Fatalf("outcomes: got %v", m.Outcomes)
	}
	if m.OutcomePrices != [2]float64{0.45, 0.55} {
		t.Fatalf("prices: got %v", m.OutcomePrices)
	}
	if m.Status != domain.MarketStatusActive {
		t.Fatalf("status: got %s want active", m.Status)
	}
	if m.EndDate == nil || m.EndDate.Minute() != 15 {
		t.Fatalf("end date: got %v", m.EndDate)
	}
}

func TestCommaSeparatedOutcomes(t *testing.T) {
	m := decodeMarket(t, `{"outcomes":"Yes, No","clobTokenIds":["1","2"]}`)
	if m.Outcomes != [2]string{"Yes", "No"} {
		t.Fatalf("outcomes: got %v", m.Outcomes)
	}
}

func TestOutOfRangePricesAreAbsent(t *testing.T) {
	m := decodeMarket(t, `{"outcomePrices":["0","1.5"],"clobTokenIds":["1","2"]}`)
	if m.OutcomePrices != [2]float64{0, 0} {
		t.Fatalf("prices: got %v want zeros", m.OutcomePrices)
	}
}

func TestClosedAndNotAccepting(t *testing.T) {
	m := decodeMarket(t, `{"active":true,"closed":true}`)
	if m.Status != domain.MarketStatusClosed {
		t.Fatalf("status: got %s want closed", m.Status)
	}
	m = decodeMarket(t, `{"active":true,"acceptingOrders":false}`)
	if m.Status != domain.MarketStatusClosed {
		t.Fatalf("status: got %s want closed", m.Status)
	}
}

func TestMissingTokensInvalid(t *testing.T) {
	m := decodeMarket(t, `{"slug":"x","clobTokenIds":"[\"1\"]"}`)
	if err := m.Validate(); err == nil {
		t.Fatal("expected invariant violation for a single token id")
	}
}

func TestBookToDomainSnapshot(t *testing.T) {
	snap := BookToDomainSnapshot("1", "0xm",
		[]WSPriceLevel{{Price: "0.40", Size: "10"}, {Price: "0.45", Size: "5"}},
		[]WSPriceLevel{{Price: "0.55", Size: "3"}, {Price: "0.50", Size: "1"}},
		"1700000000000")
	if snap.BestBid != 0.45 || snap.BestAsk != 0.50 {
		t.Fatalf("best: got bid %v ask %v", snap.BestBid, snap.BestAsk)
	}
	if snap.MidPrice != 0.475 {
		t.Fatalf("mid: got %v want 0.475", snap.MidPrice)
	}
	if snap.Timestamp.UnixMilli() != 1700000000000 {
		t.Fatalf("timestamp: got %v", snap.Timestamp)
	}
}

func TestPriceChangesToDomain(t *testing.T) {
	var msg PriceChangeMessage
	raw := `{"event_type":"price_change","market":"0xm","timestamp":"1700000000",
		"price_changes":[{"asset_id":"1","price":"0.5","size":"10","side":"BUY","best_bid":"0.5","best_ask":"0.52"},
		{"asset_id":"2","price":"0.48","size":"0","side":"SELL"}]}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := PriceChangesToDomain(&msg)
	if len(got) != 2 {
		t.Fatalf("changes: got %d want 2", len(got))
	}
	if got[0].AssetID != "1" || got[0].BestBid != 0.5 || got[0].BestAsk != 0.52 {
		t.Fatalf("first change: got %+v", got[0])
	}

	legacy := PriceChangeMessage{AssetID: "9", Price: "0.3", Size: "1", Side: "BUY"}
	if got := PriceChangesToDomain(&legacy); len(got) != 1 || got[0].AssetID != "9" || got[0].Price != 0.3 {
		t.Fatalf("legacy change: got %+v", got)
	}
}

func TestOrderResultConversion(t *testing.T) {
	r := APIOrderResult{Success: true, OrderID: "0x1", Status: "matched", MakingAmount: "5", TakingAmount: "10.5"}
	got := r.ToDomainOrderResult()
	if got.Status != domain.OrderStatusMatched || got.MakingAmount != 5 || got.TakingAmount != 10.5 {
		t.Fatalf("result: got %+v", got)
	}
	r = APIOrderResult{Success: false, ErrorMsg: "not enough balance"}
	if got := r.ToDomainOrderResult(); got.Status != domain.OrderStatusFailed || got.Message != "not enough balance" {
		t.Fatalf("rejected result: got %+v", got)
	}
}
