package watch

// Kind is the closed set of notification variants.
type Kind int

const (
	KindPriceBelow Kind = iota
	KindPriceAbove
)

func (k Kind) String() string {
	switch k {
	case KindPriceBelow:
		return "price_below"
	case KindPriceAbove:
		return "price_above"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, bool) {
	switch s {
	case "price_below":
		return KindPriceBelow, true
	case "price_above":
		return KindPriceAbove, true
	default:
		return 0, false
	}
}

// KindNames lists the recognized notify types for user-facing feedback.
func KindNames() string { return "price_below, price_above" }
