package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// EventSlugStrategy resolves an explicitly configured slug. The slug may
// name an event or a single market.
type EventSlugStrategy struct {
	Slug string
}

func (EventSlugStrategy) Name() string { return "event_slug" }

func (s EventSlugStrategy) Find(ctx context.Context, cat Catalog, _ Query) ([]Candidate, error) {
	cands, evErr := cat.EventMarkets(ctx, s.Slug)
	if evErr == nil && len(cands) > 0 {
		ordered := preferSlug(cands, s.Slug)
		// Re-read the chosen market so token ids and prices are current.
		if m := ordered[0].Market; m.Slug != "" {
			if fresh, err := cat.MarketBySlug(ctx, m.Slug); err == nil {
				ordered[0].Market = fresh
			}
		}
		return ordered[:1], nil
	}

	m, err := cat.MarketBySlug(ctx, s.Slug)
	if err != nil {
		return nil, errors.Join(evErr, err)
	}
	return []Candidate{{Market: m}}, nil
}

// preferSlug moves the candidate whose market slug equals slug to the front.
func preferSlug(cands []Candidate, slug string) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Market.Slug == slug {
			out = append(out, c)
		}
	}
	for _, c := range cands {
		if c.Market.Slug != slug {
			out = append(out, c)
		}
	}
	return out
}

// WindowStrategy is the venue-assisted lookup for recurring markets: it
// computes the current and next window start and asks for the conventional
// event slug "{coin}-updown-{d}m-{unixStart}".
type WindowStrategy struct {
	Now func() time.Time
}

func (WindowStrategy) Name() string { return "window" }

func (s WindowStrategy) Find(ctx context.Context, cat Catalog, q Query) ([]Candidate, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	var out []Candidate
	var errs []error
	for _, slug := range WindowSlugs(q.Coin, q.DurationMinutes, now()) {
		cands, err := cat.EventMarkets(ctx, slug)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, preferSlug(cands, slug)...)
	}
	if len(out) == 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// WindowSlugs returns the event slugs of the window containing now and the
// one after it.
func WindowSlugs(coin string, durationMinutes int, now time.Time) []string {
	window := int64(durationMinutes) * 60
	if window <= 0 {
		return nil
	}
	start := now.Unix() - now.Unix()%window
	coin = strings.ToLower(coin)
	return []string{
		fmt.Sprintf("%s-updown-%dm-%d", coin, durationMinutes, start),
		fmt.Sprintf("%s-updown-%dm-%d", coin, durationMinutes, start+window),
	}
}

// SearchStrategy runs a free-text search and keeps results that mention the
// duration and the coin.
type SearchStrategy struct{}

func (SearchStrategy) Name() string { return "search" }

func (SearchStrategy) Find(ctx context.Context, cat Catalog, q Query) ([]Candidate, error) {
	results, err := cat.Search(ctx, fmt.Sprintf("%s %dm", q.Coin, q.DurationMinutes))
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, c := range results {
		text := strings.ToLower(strings.Join([]string{c.Market.Slug, c.Market.Question, c.EventSlug, c.EventTitle}, " "))
		if mentionsDuration(text, q.DurationMinutes) && mentionsCoin(text, q.Coin) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no search result for %s %dm", domain.ErrNotFound, q.Coin, q.DurationMinutes)
	}
	return out, nil
}

// mentionsDuration matches the duration token on digit and word
// boundaries, so 5m does not match 15m.
func mentionsDuration(text string, minutes int) bool {
	re := regexp.MustCompile(`(^|[^0-9])` + strconv.Itoa(minutes) + `[- ]?(m|mins?|minutes?)([^a-z0-9]|$)`)
	return re.MatchString(text)
}

var coinNames = map[string]string{
	"btc": "bitcoin",
	"eth": "ethereum",
	"sol": "solana",
	"xrp": "xrp",
	"doge": "dogecoin",
}

func mentionsCoin(text, coin string) bool {
	if strings.Contains(text, coin) {
		return true
	}
	name, ok := coinNames[coin]
	return ok && strings.Contains(text, name)
}

// TemplateStrategy probes conventional slugs by direct lookup.
type TemplateStrategy struct{}

func (TemplateStrategy) Name() string { return "templates" }

func (TemplateStrategy) Find(ctx context.Context, cat Catalog, q Query) ([]Candidate, error) {
	var out []Candidate
	var errs []error
	for _, slug := range TemplateSlugs(q.Coin, q.DurationMinutes) {
		m, err := cat.MarketBySlug(ctx, slug)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, Candidate{Market: m})
	}
	if len(out) == 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// TemplateSlugs lists the conventional slugs for coin and duration.
func TemplateSlugs(coin string, durationMinutes int) []string {
	c := strings.ToLower(coin)
	d := strconv.Itoa(durationMinutes)
	return []string{
		c + "-" + d + "m-up-down",
		c + "-" + d + "m",
		c + "-" + d + "min",
		"will-" + c + "-be-up-in-" + d + "m",
		"will-" + c + "-be-down-in-" + d + "m",
	}
}

// ConditionIDStrategy looks up a market pinned by condition id. It is the
// operator's fallback when discovery finds nothing.
type ConditionIDStrategy struct {
	ConditionID string
}

func (ConditionIDStrategy) Name() string { return "condition_id" }

func (s ConditionIDStrategy) Find(ctx context.Context, cat Catalog, _ Query) ([]Candidate, error) {
	m, err := cat.MarketByConditionID(ctx, s.ConditionID)
	if err != nil {
		return nil, err
	}
	return []Candidate{{Market: m}}, nil
}
