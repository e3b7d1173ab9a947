package portfolio

import "trading-riskv1/internal/model"

// Reconcile applies batch to positions and returns the tokens whose
// last_price changed, in order of first change.
//
// Ticks for tokens with no position are ignored; the feed covers more
// instruments than are held. Existence is checked per tick, so a position
// removed before its tick is applied simply drops that tick. Positions are
// never created or deleted here.
//
// Applying the same batch twice leaves the same state and the second call
// reports nothing.
func Reconcile(positions map[string]*model.Position, batch []model.Tick) []string {
	changed, _ := reconcile(positions, batch)
	return changed
}

// reconcile also reports whether any stored field moved, including a
// change-only tick that Reconcile does not list.
func reconcile(positions map[string]*model.Position, batch []model.Tick) (changed []string, moved bool) {
	var seen map[string]struct{}

	for i := range batch {
		t := &batch[i]
		p, ok := positions[t.Token]
		if !ok {
			continue
		}
		if !p.Change.Equal(t.Change) {
			p.Change = t.Change
			moved = true
		}
		if p.LastPrice.Equal(t.LastPrice) {
			continue
		}
		p.LastPrice = t.LastPrice
		moved = true

		if seen == nil {
			seen = make(map[string]struct{}, len(batch))
		}
		if _, dup := seen[t.Token]; dup {
			continue
		}
		seen[t.Token] = struct{}{}
		changed = append(changed, t.Token)
	}
	return changed, moved
}
