package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL   string
	transport *Transport
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, transport *Transport) *GammaClient {
	return &GammaClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
	}
}

// GetMarket looks a market up by its condition id. Only an exact match is
// returned; the list endpoint answers unrelated markets for unknown ids.
func (g *GammaClient) GetMarket(ctx context.Context, conditionID string) (domain.Market, error) {
	params := url.Values{}
	params.Set("condition_ids", conditionID)

	var apiMarkets []APIMarket
	if err := g.getJSON(ctx, "/markets?"+params.Encode(), &apiMarkets); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", conditionID, err)
	}
	for i := range apiMarkets {
		if m := apiMarkets[i].ToDomainMarket(); strings.EqualFold(m.ConditionID, conditionID) {
			return m, nil
		}
	}
	return domain.Market{}, fmt.Errorf("polymarket/gamma: %w: condition id %s", domain.ErrNotFound, conditionID)
}

// GetMarketBySlug looks a market up by slug via the list endpoint, falling
// back to /markets/slug/{slug}.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error) {
	params := url.Values{}
	params.Set("slug", slug)

	var apiMarkets []APIMarket
	err := g.getJSON(ctx, "/markets?"+params.Encode(), &apiMarkets)
	if err == nil {
		for i := range apiMarkets {
			if strings.TrimSpace(apiMarkets[i].Slug) == slug {
				return apiMarkets[i].ToDomainMarket(), nil
			}
		}
		if len(apiMarkets) > 0 {
			return apiMarkets[0].ToDomainMarket(), nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var apiMarket APIMarket
	if err := g.getJSON(ctx, "/markets/slug/"+url.PathEscape(slug), &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}
	return apiMarket.ToDomainMarket(), nil
}

// GetEventBySlug returns an event by slug from /events/slug/{slug}, falling
// back to the /events?slug= list form.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	var event APIEvent
	err := g.getJSON(ctx, "/events/slug/"+url.PathEscape(slug), &event)
	if err == nil && (event.Slug != "" || len(event.Markets) > 0) {
		return event, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	params := url.Values{}
	params.Set("slug", slug)
	var events []APIEvent
	if err := g.getJSON(ctx, "/events?"+params.Encode(), &events); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}
	if len(events) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: event slug=%s", domain.ErrNotFound, slug)
	}
	return events[0], nil
}

// PublicSearch runs a free-text search and returns the matching events with
// their markets.
func (g *GammaClient) PublicSearch(ctx context.Context, query string, limit int) ([]APIEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit_per_type", strconv.Itoa(limit))
	params.Set("events_status", "active")

	var resp SearchResponse
	if err := g.getJSON(ctx, "/public-search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: search %q: %w", query, err)
	}
	return resp.Events, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (g *GammaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	body, err := g.transport.Do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
