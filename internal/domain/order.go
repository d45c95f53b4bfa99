package domain

import (
	"math/big"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusOpen    OrderStatus = "open"
	OrderStatusMatched OrderStatus = "matched"
	OrderStatusFailed  OrderStatus = "failed"
)

// Order is a signed order ready for submission to the CLOB.
type Order struct {
	Salt          string
	TokenID       string
	Maker         string
	Signer        string
	Side          OrderSide
	Type          OrderType
	MakerAmount   *big.Int // base units (1e6) given up
	TakerAmount   *big.Int // base units (1e6) received
	SignatureType int
	Signature     string // EIP-712 hex
	Owner         string // API key of the submitting account
	CreatedAt     time.Time
}

// OrderResult wraps the API response after order submission.
type OrderResult struct {
	Success      bool
	OrderID      string
	Status       OrderStatus
	Message      string
	MakingAmount float64 // what the order gave up, in display units
	TakingAmount float64 // what the order received, in display units
}
