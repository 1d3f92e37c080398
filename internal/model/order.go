package model

import (
	"time"
)

// Status tracks the lifecycle of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// forward lifecycle order; failed is reachable from any non-terminal status.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusConfirmed: 4,
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Rank returns the position of a forward status in the lifecycle,
// or -1 for failed/unknown statuses.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Side is the taker side of a market order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType has a single variant today.
type OrderType string

const OrderTypeMarket OrderType = "market"

// Dex identifies a liquidity venue.
type Dex string

const (
	DexRaydium Dex = "raydium"
	DexMeteora Dex = "meteora"
)

// Order is one row in the durable order table. JSON tags match the wire
// form consumed by subscribers; column tags match the orders table.
type Order struct {
	ID            string    `json:"id" gorm:"column:id;primaryKey"`
	Type          OrderType `json:"type" gorm:"column:type"`
	BaseToken     string    `json:"baseToken" gorm:"column:base_token"`
	QuoteToken    string    `json:"quoteToken" gorm:"column:quote_token"`
	Side          Side      `json:"side" gorm:"column:side"`
	AmountIn      float64   `json:"amountIn" gorm:"column:amount_in"`
	SlippageBps   int       `json:"slippageBps" gorm:"column:slippage_bps"`
	Status        Status    `json:"status" gorm:"column:status"`
	SelectedDex   *Dex      `json:"selectedDex,omitempty" gorm:"column:selected_dex"`
	ExecutedPrice *float64  `json:"executedPrice,omitempty" gorm:"column:executed_price"`
	TxHash        *string   `json:"txHash,omitempty" gorm:"column:tx_hash"`
	FailureReason *string   `json:"failureReason,omitempty" gorm:"column:failure_reason"`
	CreatedAt     time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName pins the table name regardless of gorm naming strategy.
func (Order) TableName() string { return "orders" }

// Quote is a venue's offered price for a pair at a point in time.
// Produced fresh per order, never cached across orders.
type Quote struct {
	Dex   Dex     `json:"dex"`
	Price float64 `json:"price"`
	Fee   float64 `json:"fee"`
}

// ExecutionResult is the outcome of a single venue swap attempt.
type ExecutionResult struct {
	Dex           Dex     `json:"dex"`
	TxHash        string  `json:"txHash"`
	ExecutedPrice float64 `json:"executedPrice"`
}

// LifecycleEvent is broadcast on every status transition and appended to
// the per-order replay log.
type LifecycleEvent struct {
	OrderID string    `json:"orderId"`
	Status  Status    `json:"status"`
	Data    any       `json:"data,omitempty"`
	TS      time.Time `json:"ts"`
}
