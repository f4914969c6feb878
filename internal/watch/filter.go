package watch

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"tornwatch/internal/torn"
)

// Filter is a pure transform from one fetched listing to an optional
// outbound message. Both variants compare against the cheapest currently
// listed unit.
type Filter interface {
	Consume(l torn.Listing) (text string, fire bool)
}

// MarketLink builds the in-game item market URL for an item.
func MarketLink(itemID int64) string {
	return fmt.Sprintf("http://www.torn.com/imarket.php#/p=shop&step=shop&type=&searchname=%d", itemID)
}

// LowPriceFilter fires when the minimum listed price is strictly below the
// threshold: time to buy, so the message carries a market link.
type LowPriceFilter struct {
	Threshold int64
	ItemName  string
	ItemID    int64
}

func (f LowPriceFilter) Consume(l torn.Listing) (string, bool) {
	min, ok := l.Min()
	if !ok || min >= f.Threshold {
		return "", false
	}
	return fmt.Sprintf("%s is selling for %s. Buy it from %s.",
		f.ItemName, humanize.Comma(min), MarketLink(f.ItemID)), true
}

// HighPriceFilter fires when the minimum listed price is strictly above the
// threshold: time to sell, so no link.
type HighPriceFilter struct {
	Threshold int64
	ItemName  string
}

func (f HighPriceFilter) Consume(l torn.Listing) (string, bool) {
	min, ok := l.Min()
	if !ok || min <= f.Threshold {
		return "", false
	}
	return fmt.Sprintf("%s is selling for %s. Time to sell!",
		f.ItemName, humanize.Comma(min)), true
}
