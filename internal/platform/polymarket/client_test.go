package polymarket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/119969788/poly-copy-trading/internal/crypto"
	"github.com/119969788/poly-copy-trading/internal/domain"
)

func testTransport() *Transport {
	return NewTransport(TransportConfig{
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
		BreakerFailures:   3,
		BreakerCooldown:   time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetMarketBySlugFallsBackToPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/markets" && r.URL.Query().Get("slug") == "eth-15m":
			w.Write([]byte(`[]`))
		case r.URL.Path == "/markets/slug/eth-15m":
			w.Write([]byte(`{"slug":"eth-15m","clobTokenIds":"[\"1\",\"2\"]"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testTransport())
	m, err := g.GetMarketBySlug(context.Background(), "eth-15m")
	if err != nil {
		t.Fatalf("GetMarketBySlug: %v", err)
	}
	if m.Slug != "eth-15m" || m.TokenIDs != [2]string{"1", "2"} {
		t.Fatalf("market: got %+v", m)
	}
}

func TestGetMarketBySlugNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/markets" {
			w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testTransport())
	_, err := g.GetMarketBySlug(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err: got %v want ErrNotFound", err)
	}
}

func TestGetMarketByConditionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("condition_ids") == "0xabc" {
			w.Write([]byte(`[{"slug":"other","conditionId":"0xdef"},{"slug":"eth-15m","conditionId":"0xABC","clobTokenIds":["1","2"]}]`))
			return
		}
		w.Write([]byte(`[{"slug":"other","conditionId":"0xdef"}]`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testTransport())
	m, err := g.GetMarket(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Slug != "eth-15m" || m.TokenIDs != [2]string{"1", "2"} {
		t.Fatalf("market: got %+v", m)
	}
	if _, err := g.GetMarket(context.Background(), "0x999"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown condition id: got %v want ErrNotFound", err)
	}
}

func TestGetEventBySlugFallsBackToQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events/slug/eth-updown-15m-100":
			http.NotFound(w, r)
		case "/events":
			if r.URL.Query().Get("slug") != "eth-updown-15m-100" {
				t.Errorf("slug query: got %q", r.URL.Query().Get("slug"))
			}
			w.Write([]byte(`[{"slug":"eth-updown-15m-100","markets":[{"slug":"eth-updown-15m-100","clobTokenIds":"[\"3\",\"4\"]"}]}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testTransport())
	ev, err := g.GetEventBySlug(context.Background(), "eth-updown-15m-100")
	if err != nil {
		t.Fatalf("GetEventBySlug: %v", err)
	}
	am, ok := ev.PickMarket("eth-updown-15m-100")
	if !ok {
		t.Fatal("PickMarket: no market")
	}
	if got := am.ToDomainMarket().TokenIDs; got != [2]string{"3", "4"} {
		t.Fatalf("token ids: got %v", got)
	}
}

func TestPublicSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/public-search" || r.URL.Query().Get("q") != "eth 15m" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"events":[{"slug":"e1","title":"ETH Up or Down 15m","markets":[{"slug":"m1","clobTokenIds":["5","6"]}]}]}`))
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL, testTransport())
	events, err := g.PublicSearch(context.Background(), "eth 15m", 10)
	if err != nil {
		t.Fatalf("PublicSearch: %v", err)
	}
	if len(events) != 1 || len(events[0].Markets) != 1 {
		t.Fatalf("events: got %+v", events)
	}
}

func TestGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token_id") {
		case "1":
			w.Write([]byte(`{"market":"0xm","asset_id":"1","bids":[{"price":"0.41","size":"10"}],"asks":[{"price":"0.43","size":"5"}]}`))
		case "2":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"No orderbook exists for the requested token id"}`))
		case "3":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"No orderbook exists for the requested token id"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testTransport(), nil, crypto.APICreds{})
	book, err := c.GetOrderBook(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if book.BestBid != 0.41 || book.BestAsk != 0.43 {
		t.Fatalf("book: got bid %v ask %v", book.BestBid, book.BestAsk)
	}
	for _, id := range []string{"2", "3"} {
		if _, err := c.GetOrderBook(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("token %s: got %v want ErrNotFound", id, err)
		}
	}
	_, err = c.GetOrderBook(context.Background(), "4")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("token 4: got %v want HTTP 502", err)
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testTransport(), nil, crypto.APICreds{})
	for i := 0; i < 3; i++ {
		c.GetOrderBook(context.Background(), "1")
	}
	_, err := c.GetOrderBook(context.Background(), "1")
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("err: got %v want ErrCircuitOpen", err)
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("server hits: got %d want 3", got)
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, testTransport(), nil, crypto.APICreds{})
	for i := 0; i < 10; i++ {
		if _, err := c.GetOrderBook(context.Background(), "1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("call %d: got %v want ErrNotFound", i, err)
		}
	}
}

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestPostOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("POLY_API_KEY") != "k" || r.Header.Get("POLY_SIGNATURE") == "" {
			t.Errorf("missing L2 headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"orderType":"FAK"`) {
			t.Errorf("body: got %s", body)
		}
		w.Write([]byte(`{"success":false,"errorMsg":"not enough balance / allowance"}`))
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey, 137, "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	c := NewClobClient(srv.URL, testTransport(), signer, crypto.APICreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
	_, err = c.PostOrder(context.Background(), domain.Order{
		Salt: "1", TokenID: "1", Side: domain.OrderSideBuy, Type: domain.OrderTypeFAK,
		MakerAmount: big.NewInt(1), TakerAmount: big.NewInt(2),
	})
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("err: got %v want ErrOrderRejected", err)
	}
	if !strings.Contains(err.Error(), "not enough balance") {
		t.Fatalf("err message lost venue text: %v", err)
	}
}

func TestPostOrderValidation400IsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid amount"}`))
	}))
	defer srv.Close()

	signer, _ := crypto.NewSigner(testKey, 137, "")
	c := NewClobClient(srv.URL, testTransport(), signer, crypto.APICreds{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"})
	_, err := c.PostOrder(context.Background(), domain.Order{
		Salt: "1", TokenID: "1", MakerAmount: big.NewInt(1), TakerAmount: big.NewInt(1),
	})
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("err: got %v want ErrOrderRejected", err)
	}
}

func TestDeriveAPIKeyCreatesWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("POLY_SIGNATURE") == "" || r.Header.Get("POLY_ADDRESS") == "" {
			t.Errorf("missing L1 headers")
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/auth/derive-api-key":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Could not derive api key!"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/auth/api-key":
			w.Write([]byte(`{"apiKey":"k","secret":"s","passphrase":"p"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	signer, _ := crypto.NewSigner(testKey, 137, "")
	c := NewClobClient(srv.URL, testTransport(), signer, crypto.APICreds{})
	creds, err := c.DeriveAPIKey(context.Background())
	if err != nil {
		t.Fatalf("DeriveAPIKey: %v", err)
	}
	if creds.Key != "k" || !c.HasCreds() {
		t.Fatalf("creds: got %v", creds)
	}
}
