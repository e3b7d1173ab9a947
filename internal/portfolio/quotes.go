package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-riskv1/internal/model"
)

// Quote is the latest price and day change for a watched instrument.
type Quote struct {
	Token     string          `json:"token"`
	Exchange  string          `json:"exchange,omitempty"`
	LastPrice decimal.Decimal `json:"last_price"`
	Change    decimal.Decimal `json:"change"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// QuoteBoard tracks quotes for a watch list of instruments that need not be
// held. Unlike the ledger, a quote counts as changed when either the price
// or the change field moves, which is what screening views re-sort on.
type QuoteBoard struct {
	mu     sync.RWMutex
	quotes map[string]*Quote
	now    func() time.Time
}

// NewQuoteBoard creates a board watching tokens.
func NewQuoteBoard(tokens ...string) *QuoteBoard {
	b := &QuoteBoard{
		quotes: make(map[string]*Quote, len(tokens)),
		now:    time.Now,
	}
	for _, t := range tokens {
		b.quotes[t] = &Quote{Token: t}
	}
	return b
}

// Watch adds token to the board. Watching an already watched token is a no-op.
func (b *QuoteBoard) Watch(token string) {
	b.mu.Lock()
	if _, ok := b.quotes[token]; !ok {
		b.quotes[token] = &Quote{Token: token}
	}
	b.mu.Unlock()
}

// Unwatch removes token from the board.
func (b *QuoteBoard) Unwatch(token string) {
	b.mu.Lock()
	delete(b.quotes, token)
	b.mu.Unlock()
}

// Reconcile applies batch and returns watched tokens whose price or change
// differs from the stored value.
func (b *QuoteBoard) Reconcile(batch []model.Tick) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changed []string
	now := b.now()
	for _, t := range batch {
		q, ok := b.quotes[t.Token]
		if !ok {
			continue
		}
		if q.LastPrice.Equal(t.LastPrice) && q.Change.Equal(t.Change) {
			continue
		}
		q.LastPrice = t.LastPrice
		q.Change = t.Change
		if t.Exchange != "" {
			q.Exchange = t.Exchange
		}
		q.UpdatedAt = now
		changed = append(changed, t.Token)
	}
	return changed
}

// Quotes returns a copy of all quotes sorted by token.
func (b *QuoteBoard) Quotes() []Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}
