package domain

import (
	"fmt"
	"strings"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Side identifies one of the two complementary outcomes of an UP/DOWN market.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Sides lists both outcomes in evaluation order.
var Sides = [2]Side{SideUp, SideDown}

// Other returns the complementary side.
func (s Side) Other() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// index returns the conventional position of the side in a two-outcome list.
func (s Side) index() int {
	if s == SideDown {
		return 1
	}
	return 0
}

// Market is one two-outcome event on the venue, e.g. "ETH up or down 15m".
type Market struct {
	ID            string
	Question      string
	Slug          string
	ConditionID   string
	Outcomes      [2]string  // raw venue labels, e.g. ["Up","Down"] or ["Yes","No"]
	TokenIDs      [2]string  // ERC-1155 token IDs (decimal strings)
	OutcomePrices [2]float64 // snapshot prices at fetch time, 0 when absent
	Status        MarketStatus
	EndDate       *time.Time
	FetchedAt     time.Time
}

// Key identifies the market for exclusion sets: the slug, or the ID when the
// slug is empty.
func (m Market) Key() string {
	if m.Slug != "" {
		return m.Slug
	}
	return m.ID
}

// HasTokens reports whether both token IDs are present.
func (m Market) HasTokens() bool {
	return strings.TrimSpace(m.TokenIDs[0]) != "" && strings.TrimSpace(m.TokenIDs[1]) != ""
}

// Validate checks the token identifiers. A market that fails validation must
// not be traded.
func (m Market) Validate() error {
	if !m.HasTokens() {
		return fmt.Errorf("%w: market %s has fewer than two token ids", ErrInvariantViolation, m.Key())
	}
	if m.TokenIDs[0] == m.TokenIDs[1] {
		return fmt.Errorf("%w: market %s has duplicate token id %s", ErrInvariantViolation, m.Key(), m.TokenIDs[0])
	}
	for _, id := range m.TokenIDs {
		if !IsValidTokenID(id) {
			return fmt.Errorf("%w: market %s token id %q is not numeric", ErrInvariantViolation, m.Key(), id)
		}
	}
	return nil
}

// TokenID returns the token for the given side. Labels decide when both of
// them are recognisable and distinct; otherwise index 0 is UP and index 1 is
// DOWN.
func (m Market) TokenID(side Side) string {
	return m.TokenIDs[m.sideIndex(side)]
}

// SideOf returns the side of tokenID, or false when the token does not belong
// to the market.
func (m Market) SideOf(tokenID string) (Side, bool) {
	for _, s := range Sides {
		if m.TokenID(s) == tokenID && tokenID != "" {
			return s, true
		}
	}
	return "", false
}

// SnapshotPrice returns the embedded outcome price for tokenID.
func (m Market) SnapshotPrice(tokenID string) (float64, bool) {
	for i, id := range m.TokenIDs {
		if id != "" && id == tokenID {
			p := m.OutcomePrices[i]
			return p, p > 0
		}
	}
	return 0, false
}

func (m Market) sideIndex(side Side) int {
	first, ok1 := NormalizeOutcome(m.Outcomes[0])
	second, ok2 := NormalizeOutcome(m.Outcomes[1])
	if ok1 && ok2 && first != second {
		if first == side {
			return 0
		}
		return 1
	}
	return side.index()
}

// NormalizeOutcome maps a free-text outcome label onto a Side. Matching is
// case-insensitive and accepts the venue's synonyms.
func NormalizeOutcome(label string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "up", "yes", "higher", "above":
		return SideUp, true
	case "down", "no", "lower", "below":
		return SideDown, true
	default:
		return "", false
	}
}

// IsValidTokenID reports whether id is a non-empty string of decimal digits.
func IsValidTokenID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
