package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single print received from the realtime market stream.
type Trade struct {
	Symbol    string
	Timestamp int64 // unix seconds
	Price     float64
	Volume    float64
}

// Quote is the latest known price of a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
	Source string          `json:"source"`
}
