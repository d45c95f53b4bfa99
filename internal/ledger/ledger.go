// Package ledger keeps the open positions of one engine, keyed by token id.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/119969788/poly-copy-trading/internal/domain"
)

// Ledger maps token id to the open position in that token. It holds at most
// one position per token. Mutations come from the engine's tick; reads may
// come from other goroutines.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[string]domain.Position)}
}

// Open records p. It fails with domain.ErrAlreadyExists when the token is
// already held.
func (l *Ledger) Open(p domain.Position) error {
	if p.TokenID == "" {
		return fmt.Errorf("ledger: open: %w: empty token id", domain.ErrInvariantViolation)
	}
	if p.Size <= 0 {
		return fmt.Errorf("ledger: open %s: %w: size %v", p.TokenID, domain.ErrInvariantViolation, p.Size)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[p.TokenID]; ok {
		return fmt.Errorf("ledger: open %s: %w", p.TokenID, domain.ErrAlreadyExists)
	}
	l.positions[p.TokenID] = p
	return nil
}

// Close removes and returns the position in tokenID.
func (l *Ledger) Close(tokenID string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[tokenID]
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: close %s: %w", tokenID, domain.ErrNotFound)
	}
	delete(l.positions, tokenID)
	return p, nil
}

// Get returns the position in tokenID.
func (l *Ledger) Get(tokenID string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[tokenID]
	return p, ok
}

// Has reports whether tokenID is held.
func (l *Ledger) Has(tokenID string) bool {
	_, ok := l.Get(tokenID)
	return ok
}

// List returns a copy of all positions ordered by entry time, then token id.
func (l *Ledger) List() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
