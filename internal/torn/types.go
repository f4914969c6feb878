package torn

import "time"

// Listing is one fetched snapshot of the bazaar offers for an item.
type Listing struct {
	ItemID    int64
	Prices    []int64
	FetchedAt time.Time
}

// Min returns the cheapest currently listed price. ok is false when the
// bazaar has no offers.
func (l Listing) Min() (int64, bool) {
	if len(l.Prices) == 0 {
		return 0, false
	}
	min := l.Prices[0]
	for _, p := range l.Prices[1:] {
		if p < min {
			min = p
		}
	}
	return min, true
}
