package model

// Side identifies the direction of a position, order or deal.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the locking direction for a position on this side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Tick is a timestamped bid/ask observation for a symbol. Timestamp is
// seconds since the Unix epoch, server time.
type Tick struct {
	Timestamp int64   `json:"ts"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

// Instrument holds the pricing metadata needed to convert a point threshold
// into an absolute price distance.
type Instrument struct {
	Symbol    string  `json:"symbol"`
	PointSize float64 `json:"point_size"`
	Digits    int     `json:"digits"`
}

// Position is one open client exposure returned by the gateway.
type Position struct {
	ID           uint64  `json:"id"`
	Login        uint64  `json:"login"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Volume       uint64  `json:"volume"`
	Digits       int     `json:"digits"`
	ContractSize float64 `json:"contract_size"`
	MarginRate   float64 `json:"margin_rate"`
	ProfitRate   float64 `json:"profit_rate"`
}

// Order is a fully specified, already-filled locking order submitted to the
// gateway's history.
type Order struct {
	ID           string  `json:"id"`
	Login        uint64  `json:"login"`
	Symbol       string  `json:"symbol"`
	Side         Side    `json:"side"`
	Volume       uint64  `json:"volume"`
	Price        float64 `json:"price"`
	Digits       int     `json:"digits"`
	ContractSize float64 `json:"contract_size"`
	MarginRate   float64 `json:"margin_rate"`
	ProfitRate   float64 `json:"profit_rate"`
	SetupTimeMs  int64   `json:"setup_time_ms"`
	Comment      string  `json:"comment"`
}

// Deal is the closing deal matching a persisted locking order.
type Deal struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id"`
	Login       uint64  `json:"login"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Volume      uint64  `json:"volume"`
	Price       float64 `json:"price"`
	Digits      int     `json:"digits"`
	MarginRate  float64 `json:"margin_rate"`
	ProfitRate  float64 `json:"profit_rate"`
	SetupTimeMs int64   `json:"setup_time_ms"`
	Comment     string  `json:"comment"`
}

// Result is the per-record outcome of a batch gateway write.
type Result struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// GapCandidate is emitted once per detected session-start transition when a
// measurable start-to-end movement exists.
type GapCandidate struct {
	Symbol           string
	SessionStart     Tick
	SessionEnd       Tick
	WindowStart      int64 // identifies the window occurrence
	EventTimestampMs int64
}
