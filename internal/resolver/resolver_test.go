package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/retry"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeCatalog struct {
	markets map[string]domain.Market
	events  map[string][]Candidate
	search  []Candidate

	byCondition map[string]domain.Market

	marketCalls    []string
	conditionCalls []string
	eventCalls  []string
	searchCalls []string
	failures    map[string]int // slug -> remaining transient failures
}

func (f *fakeCatalog) MarketBySlug(_ context.Context, slug string) (domain.Market, error) {
	f.marketCalls = append(f.marketCalls, slug)
	if n := f.failures[slug]; n > 0 {
		f.failures[slug] = n - 1
		return domain.Market{}, errors.New("temporary")
	}
	m, ok := f.markets[slug]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeCatalog) MarketByConditionID(_ context.Context, id string) (domain.Market, error) {
	f.conditionCalls = append(f.conditionCalls, id)
	m, ok := f.byCondition[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeCatalog) EventMarkets(_ context.Context, slug string) ([]Candidate, error) {
	f.eventCalls = append(f.eventCalls, slug)
	c, ok := f.events[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCatalog) Search(_ context.Context, q string) ([]Candidate, error) {
	f.searchCalls = append(f.searchCalls, q)
	return f.search, nil
}

func market(slug, up, down string) domain.Market {
	return domain.Market{
		ID:          "id-" + slug,
		Slug:        slug,
		ConditionID: "0x" + slug,
		Outcomes:    [2]string{"Up", "Down"},
		TokenIDs:    [2]string{up, down},
		Status:      domain.MarketStatusActive,
	}
}

var fixedNow = time.Unix(1_760_000_100, 0)

func newResolver(cat Catalog, slug string) *Resolver {
	return New(cat, Config{
		EventSlug: slug,
		Retry:     retry.Policy{MaxAttempts: 2},
		Now:       func() time.Time { return fixedNow },
	}, quiet())
}

func TestWindowSlugs(t *testing.T) {
	got := WindowSlugs("ETH", 15, time.Unix(1_760_000_100, 0))
	want := []string{"eth-updown-15m-1759999500", "eth-updown-15m-1760000400"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestTemplateSlugs(t *testing.T) {
	got := TemplateSlugs("eth", 15)
	want := []string{
		"eth-15m-up-down", "eth-15m", "eth-15min",
		"will-eth-be-up-in-15m", "will-eth-be-down-in-15m",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestExplicitSlugWins(t *testing.T) {
	m := market("eth-special", "11", "12")
	cat := &fakeCatalog{
		events:  map[string][]Candidate{"eth-special": {{Market: market("other", "1", "2")}, {Market: m}}},
		markets: map[string]domain.Market{"eth-special": m},
	}
	got, err := newResolver(cat, "eth-special").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != "eth-special" {
		t.Fatalf("slug: got %s", got.Slug)
	}
	if !slices.Contains(cat.marketCalls, "eth-special") {
		t.Fatal("chosen market was not re-read by slug")
	}
}

func TestExplicitSlugInvalidFallsThrough(t *testing.T) {
	bad := market("eth-special", "abc", "12")
	window := market("eth-updown-15m-1759999500", "21", "22")
	cat := &fakeCatalog{
		markets: map[string]domain.Market{"eth-special": bad},
		events:  map[string][]Candidate{"eth-updown-15m-1759999500": {{Market: window}}},
	}
	got, err := newResolver(cat, "eth-special").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != window.Slug {
		t.Fatalf("got %s want window market", got.Slug)
	}
}

func TestWindowThenSearchThenTemplates(t *testing.T) {
	tmpl := market("eth-15m", "31", "32")
	cat := &fakeCatalog{
		markets: map[string]domain.Market{"eth-15m": tmpl},
		search: []Candidate{
			{Market: market("btc-updown-15m-1", "41", "42"), EventTitle: "Bitcoin Up or Down 15m"},
			{Market: market("eth-hourly", "43", "44"), EventTitle: "Ethereum hourly"},
		},
	}
	got, err := newResolver(cat, "").FindMarket(context.Background(), Query{Coin: "ETH", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != "eth-15m" {
		t.Fatalf("got %s want template market", got.Slug)
	}
	if len(cat.eventCalls) != 2 || len(cat.searchCalls) != 1 || cat.searchCalls[0] != "eth 15m" {
		t.Fatalf("calls: events=%v search=%v", cat.eventCalls, cat.searchCalls)
	}
}

func TestSearchFiltersByDurationAndCoin(t *testing.T) {
	want := market("ethereum-up-or-down-15-min", "51", "52")
	cat := &fakeCatalog{
		search: []Candidate{
			{Market: market("sol-15m", "1", "2")},
			{Market: market("eth-1h", "3", "4")},
			{Market: want},
		},
	}
	got, err := newResolver(cat, "").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != want.Slug {
		t.Fatalf("got %s want %s", got.Slug, want.Slug)
	}
}

func TestSearchDurationNotASubstring(t *testing.T) {
	want := market("eth-updown-5m-1760000100", "71", "72")
	cat := &fakeCatalog{
		search: []Candidate{
			{Market: market("eth-updown-15m-1760000000", "1", "2")},
			{Market: market("eth-up-or-down-25-min", "3", "4")},
			{Market: want},
		},
	}
	got, err := newResolver(cat, "").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 5})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != want.Slug {
		t.Fatalf("got %s want %s", got.Slug, want.Slug)
	}
}

func TestMentionsDuration(t *testing.T) {
	tests := []struct {
		text    string
		minutes int
		want    bool
	}{
		{"eth-updown-15m-1760000000", 15, true},
		{"eth-updown-15m-1760000000", 5, false},
		{"eth-updown-15m-1760000000", 1, false},
		{"ethereum up or down 15 min", 15, true},
		{"ethereum-up-or-down-15-min", 15, true},
		{"bitcoin 15 minutes", 15, true},
		{"eth-15min", 15, true},
		{"eth 15 million", 15, false},
		{"eth 1h", 15, false},
	}
	for _, tt := range tests {
		if got := mentionsDuration(tt.text, tt.minutes); got != tt.want {
			t.Errorf("mentionsDuration(%q, %d): got %v want %v", tt.text, tt.minutes, got, tt.want)
		}
	}
}

func TestConditionIDIsLastResort(t *testing.T) {
	pinned := market("eth-pinned", "81", "82")
	pinned.ConditionID = "0xpinned"
	cat := &fakeCatalog{byCondition: map[string]domain.Market{"0xpinned": pinned}}
	r := New(cat, Config{
		ConditionID: "0xpinned",
		Retry:       retry.Policy{MaxAttempts: 1},
		Now:         func() time.Time { return fixedNow },
	}, quiet())

	got, err := r.FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != pinned.Slug {
		t.Fatalf("got %s want %s", got.Slug, pinned.Slug)
	}
	if len(cat.searchCalls) != 1 || len(cat.eventCalls) == 0 {
		t.Fatalf("discovery must run first: events=%v search=%v", cat.eventCalls, cat.searchCalls)
	}

	found := market("eth-updown-15m-1759999500", "91", "92")
	cat = &fakeCatalog{
		events:      map[string][]Candidate{found.Slug: {{Market: found}}},
		byCondition: map[string]domain.Market{"0xpinned": pinned},
	}
	r = New(cat, Config{ConditionID: "0xpinned", Retry: retry.Policy{MaxAttempts: 1}, Now: func() time.Time { return fixedNow }}, quiet())
	got, err = r.FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != found.Slug || len(cat.conditionCalls) != 0 {
		t.Fatalf("got %s, condition lookups %v", got.Slug, cat.conditionCalls)
	}
}

func TestExcludeSkipsKnownMarkets(t *testing.T) {
	first := market("eth-updown-15m-1759999500", "61", "62")
	next := market("eth-updown-15m-1760000400", "63", "64")
	cat := &fakeCatalog{events: map[string][]Candidate{
		first.Slug: {{Market: first}},
		next.Slug:  {{Market: next}},
	}}
	got, err := newResolver(cat, "").FindMarket(context.Background(), Query{
		Coin: "eth", DurationMinutes: 15,
		Exclude: map[string]bool{first.Slug: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != next.Slug {
		t.Fatalf("got %s want %s", got.Slug, next.Slug)
	}
}

func TestBackfillMissingTokens(t *testing.T) {
	slug := "eth-updown-15m-1759999500"
	bare := market(slug, "", "")
	cat := &fakeCatalog{
		events:  map[string][]Candidate{slug: {{Market: bare}}},
		markets: map[string]domain.Market{slug: market(slug, "71", "72")},
	}
	got, err := newResolver(cat, "").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenIDs != [2]string{"71", "72"} {
		t.Fatalf("tokens: got %v", got.TokenIDs)
	}
}

func TestClosedMarketsSkipped(t *testing.T) {
	slug := "eth-updown-15m-1759999500"
	closed := market(slug, "81", "82")
	closed.Status = domain.MarketStatusClosed
	cat := &fakeCatalog{events: map[string][]Candidate{slug: {{Market: closed}}}}
	_, err := newResolver(cat, "").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func TestExhaustionIsNotFound(t *testing.T) {
	_, err := newResolver(&fakeCatalog{}, "").FindMarket(context.Background(), Query{Coin: "doge", DurationMinutes: 15})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func TestTransientErrorsRetried(t *testing.T) {
	cat := &fakeCatalog{
		markets:  map[string]domain.Market{"eth-15m-up-down": market("eth-15m-up-down", "91", "92")},
		failures: map[string]int{"eth-15m-up-down": 1},
	}
	got, err := newResolver(cat, "").FindMarket(context.Background(), Query{Coin: "eth", DurationMinutes: 15})
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != "eth-15m-up-down" {
		t.Fatalf("got %s", got.Slug)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newResolver(&fakeCatalog{}, "").FindMarket(ctx, Query{Coin: "eth", DurationMinutes: 15})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}
