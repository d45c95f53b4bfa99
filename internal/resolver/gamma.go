package resolver

import (
	"context"
	"fmt"

	"github.com/119969788/poly-copy-trading/internal/domain"
	"github.com/119969788/poly-copy-trading/internal/platform/polymarket"
)

// searchLimit caps results per type on the public search endpoint.
const searchLimit = 20

// GammaCatalog adapts the Gamma API client to Catalog.
type GammaCatalog struct {
	Client *polymarket.GammaClient
}

func (g GammaCatalog) MarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	return g.Client.GetMarketBySlug(ctx, slug)
}

func (g GammaCatalog) MarketByConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	return g.Client.GetMarket(ctx, conditionID)
}

func (g GammaCatalog) EventMarkets(ctx context.Context, eventSlug string) ([]Candidate, error) {
	ev, err := g.Client.GetEventBySlug(ctx, eventSlug)
	if err != nil {
		return nil, err
	}
	if len(ev.Markets) == 0 {
		return nil, fmt.Errorf("resolver: event %s: %w: no markets", eventSlug, domain.ErrNotFound)
	}
	return eventCandidates(ev), nil
}

func (g GammaCatalog) Search(ctx context.Context, query string) ([]Candidate, error) {
	events, err := g.Client.PublicSearch(ctx, query, searchLimit)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, ev := range events {
		out = append(out, eventCandidates(ev)...)
	}
	return out, nil
}

func eventCandidates(ev polymarket.APIEvent) []Candidate {
	out := make([]Candidate, 0, len(ev.Markets))
	for i := range ev.Markets {
		out = append(out, Candidate{
			Market:     ev.Markets[i].ToDomainMarket(),
			EventSlug:  ev.Slug,
			EventTitle: ev.Title,
		})
	}
	return out
}
