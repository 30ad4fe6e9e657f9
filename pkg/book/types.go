package book

// PriceScale converts decimal prices to the integer keys used by the level sets.
// Four fractional digits are kept; anything finer is truncated.
const (
	PriceScale    int64 = 10_000
	PriceScaleExp int32 = 4
)

type Side uint8

const (
	SideNone Side = iota // neutral or unrecognised side tag
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "none"
	}
}

// Opposite returns the side whose resting liquidity an aggressor on s consumes.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

type Action uint8

const (
	ActionOther Action = iota // any tag without book semantics
	ActionAdd
	ActionCancel
	ActionTrade
	ActionFill
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionCancel:
		return "cancel"
	case ActionTrade:
		return "trade"
	case ActionFill:
		return "fill"
	case ActionClear:
		return "clear"
	default:
		return "other"
	}
}

// Event is one decoded MBO row. TsEvent is kept as the raw field so it can
// be echoed to the output untouched.
type Event struct {
	TsEvent string
	Action  Action
	Side    Side
	Price   int64 // scaled by PriceScale
	Size    int64
	OrderID uint64
}

// Level is the aggregate of all resting orders at one price on one side.
type Level struct {
	Price int64 `json:"price"`
	Size  int64 `json:"size"`
	Count int32 `json:"count"`
}

// Outcome reports what Apply did with an event.
type Outcome uint8

const (
	OutcomeApplied      Outcome = iota
	OutcomeUnknownOrder         // cancel for an id not in the index
	OutcomeNoLevel              // trade at a price absent from the opposite side
	OutcomeNeutralTrade         // trade without aggressor side
	OutcomePassThrough          // action with no book semantics
	OutcomeSuppressed           // fill: no mutation and no snapshot
)

// Emits reports whether a snapshot must be rendered after the event.
func (o Outcome) Emits() bool { return o != OutcomeSuppressed }

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeUnknownOrder:
		return "unknown_order"
	case OutcomeNoLevel:
		return "no_level"
	case OutcomeNeutralTrade:
		return "neutral_trade"
	case OutcomePassThrough:
		return "pass_through"
	default:
		return "suppressed"
	}
}
