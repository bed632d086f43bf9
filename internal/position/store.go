package position

import (
	"sort"
	"sync"
	"time"

	"sterling-gateway/internal/ledger"
)

// Position is the per (account, symbol) snapshot. Quantity is signed: long
// positive, short negative.
type Position struct {
	Account   string    `json:"account"`
	Symbol    string    `json:"symbol"`
	Qty       int64     `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps per (account, symbol) position snapshots in memory.
//
// The automation goroutine is the only writer (fills and terminal refreshes);
// API workers read under the read lock.
type Store struct {
	mu        sync.RWMutex
	positions map[key]Position
}

type key struct {
	account string
	symbol  string
}

func NewStore() *Store {
	return &Store{positions: make(map[key]Position)}
}

// ApplyFill adjusts the position for one execution. Buys increase the signed
// quantity, sells decrease it. The volume-weighted average price is
// recomputed only when the fill adds to the position in its current
// direction; a reducing fill keeps the prior average, and a flip opens the
// new direction at the fill price.
func (s *Store) ApplyFill(account, symbol string, side ledger.Side, qty int64, price float64) Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{account: account, symbol: symbol}
	p := s.positions[k]
	p.Account = account
	p.Symbol = symbol

	delta := qty
	if side == ledger.SideSell {
		delta = -qty
	}

	oldQty := p.Qty
	newQty := oldQty + delta

	switch {
	case oldQty == 0 || sameSign(oldQty, delta):
		abs := absInt64(oldQty)
		p.AvgPrice = (p.AvgPrice*float64(abs) + price*float64(qty)) / float64(abs+qty)
	case sameSign(oldQty, newQty):
		// reduced, direction unchanged; average stays
	case newQty == 0:
		p.AvgPrice = 0
	default:
		// flipped through zero; the remainder opened at the fill price
		p.AvgPrice = price
	}

	p.Qty = newQty
	p.UpdatedAt = time.Now()
	s.positions[k] = p
	return p
}

// Set overwrites a snapshot from an explicit terminal query.
func (s *Store) Set(account, symbol string, qty int64, avgPrice float64) Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Position{
		Account:   account,
		Symbol:    symbol,
		Qty:       qty,
		AvgPrice:  avgPrice,
		UpdatedAt: time.Now(),
	}
	s.positions[key{account: account, symbol: symbol}] = p
	return p
}

// Get returns the snapshot for (account, symbol); ok is false when the pair
// was never observed.
func (s *Store) Get(account, symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key{account: account, symbol: symbol}]
	return p, ok
}

// List returns all snapshots for an account, sorted by symbol.
func (s *Store) List(account string) []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Position, 0)
	for k, p := range s.positions {
		if k.account == account {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
