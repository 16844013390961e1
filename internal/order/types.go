package order

// Direction is the side of an order.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Order represents a venue order.
type Order struct {
	OrderID      string    `json:"order_id"`
	Instrument   string    `json:"instrument_name"`
	Direction    Direction `json:"direction"`
	Price        float64   `json:"price"`
	Amount       float64   `json:"amount"`
	FilledAmount float64   `json:"filled_amount"`
	OrderType    string    `json:"order_type"`  // "limit", "market"
	OrderState   string    `json:"order_state"` // "open", "filled", "rejected", "cancelled"
	Label        string    `json:"label"`       // client-assigned uuid
	CreatedAt    int64     `json:"creation_timestamp"`
	UpdatedAt    int64     `json:"last_update_timestamp"`
}

// Position represents an open position on an instrument.
type Position struct {
	Instrument       string  `json:"instrument_name"`
	Size             float64 `json:"size"`
	Direction        string  `json:"direction"`
	AveragePrice     float64 `json:"average_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedPnL    float64 `json:"floating_profit_loss"`
	RealizedPnL      float64 `json:"realized_profit_loss"`
	LiquidationPrice float64 `json:"estimated_liquidation_price"`
}

// Level is one price level of an orderbook: [price, amount].
type Level [2]float64

// Price returns the level's price.
func (l Level) Price() float64 { return l[0] }

// Amount returns the level's amount.
func (l Level) Amount() float64 { return l[1] }

// Orderbook represents an orderbook snapshot for an instrument.
type Orderbook struct {
	Instrument string  `json:"instrument_name"`
	Bids       []Level `json:"bids"`
	Asks       []Level `json:"asks"`
	Timestamp  int64   `json:"timestamp"`
}

// BestBid returns the highest bid price, or 0 when the book is empty.
func (b *Orderbook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price()
}

// BestAsk returns the lowest ask price, or 0 when the book is empty.
func (b *Orderbook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price()
}
