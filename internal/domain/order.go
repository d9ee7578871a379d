package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TimeInForce is the policy the order gateway applies when an order cannot
// fill immediately.
type TimeInForce string

const (
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancelled
)

// OrderStatus is the external gateway's reported outcome for a submission,
// per spec.md §6.2.
type OrderStatus string

const (
	OrderStatusFilled     OrderStatus = "FILLED"
	OrderStatusPartial    OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected   OrderStatus = "REJECTED"
	OrderStatusOpen       OrderStatus = "OPEN"
)

// RejectReason classifies why the gateway rejected an order, distinguishing
// retryable transient failures from persistent ones (spec.md §6.2, §7).
type RejectReason string

const (
	RejectTemporary  RejectReason = "TEMPORARY"
	RejectPersistent RejectReason = "PERSISTENT"
)

// Order is the request sent to the external order-entry gateway.
type Order struct {
	TokenID        string
	Side           OrderSide
	LimitPrice     decimal.Decimal
	Size           decimal.Decimal
	TimeInForce    TimeInForce
	MaxSlippageBps int
	Strategy       string
	CreatedAt      time.Time
}

// OrderResult is the gateway's response to a submit call.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledSize  decimal.Decimal
	AvgPrice    decimal.Decimal
	RejectReason RejectReason
}

// Filled reports whether any size was filled.
func (r OrderResult) Filled() bool {
	return r.FilledSize.IsPositive()
}

// CancelResult is the gateway's response to a cancel call.
type CancelResult struct {
	Status OrderStatus
}
