package gateway

import "github.com/shopspring/decimal"

// catalogMarketWire is the wire shape of one element in the market catalog
// response, per spec.md §6.1: {id, question, end_date_iso, volume,
// tokens: [{token_id, outcome}]}.
type catalogMarketWire struct {
	ID         string             `json:"id"`
	Question   string             `json:"question"`
	EndDateISO string             `json:"end_date_iso"`
	Volume     float64            `json:"volume"`
	Tokens     []catalogTokenWire `json:"tokens"`
}

type catalogTokenWire struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// submitOrderWire is the request body for the order-gateway submit
// operation, per spec.md §6.2: {token_id, side, limit_price, size,
// time_in_force, max_slippage_bps}.
type submitOrderWire struct {
	TokenID        string `json:"token_id"`
	Side           string `json:"side"`
	LimitPrice     string `json:"limit_price"`
	Size           string `json:"size"`
	TimeInForce    string `json:"time_in_force"`
	MaxSlippageBps int    `json:"max_slippage_bps"`
}

// orderResultWire is the response body for submit, per spec.md §6.2:
// {order_id, status, filled_size, avg_price}.
type orderResultWire struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	FilledSize   string `json:"filled_size"`
	AvgPrice     string `json:"avg_price"`
	RejectReason string `json:"reject_reason,omitempty"`
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// cancelResultWire is the response body for cancel, per spec.md §6.2:
// {status}.
type cancelResultWire struct {
	Status string `json:"status"`
}
