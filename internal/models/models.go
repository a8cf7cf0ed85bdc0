package models

import (
	"fmt"
	"time"

	"github.com/xtrntr/spot/internal/money"
)

// Side is the closed order-side enumeration.
type Side int16

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// ParseSide maps the wire form ("buy"/"sell") to a Side.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("side must be 'buy' or 'sell', got %q", s)
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", int16(s))
	}
}

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Status is the closed order-status enumeration. OPEN is the only
// non-terminal state; there is no transition out of FILLED or CANCELLED.
type Status int16

const (
	StatusOpen      Status = 1
	StatusFilled    Status = 2
	StatusCancelled Status = 3
)

// ParseStatus maps the wire form to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "open":
		return StatusOpen, nil
	case "filled":
		return StatusFilled, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("status must be 'open', 'filled' or 'cancelled', got %q", s)
	}
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int16(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Symbol identifies a tradable asset. The set is closed.
type Symbol string

const (
	SymbolBTC Symbol = "BTC"
	SymbolETH Symbol = "ETH"
)

// Symbols lists every tradable symbol.
var Symbols = []Symbol{SymbolBTC, SymbolETH}

// ParseSymbol validates s against the closed symbol set.
func ParseSymbol(s string) (Symbol, error) {
	for _, sym := range Symbols {
		if Symbol(s) == sym {
			return sym, nil
		}
	}
	return "", fmt.Errorf("unknown symbol %q", s)
}

// Account holds a user's USD balance. The balance is mutated only inside
// exclusive row locks held by the reservation and settlement transactions.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	BalanceUSD   money.Dec `json:"balance_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

// Asset is an (account, symbol) wallet. Amount is available, LockedAmount
// is reserved by open sell orders. Both are always >= 0.
type Asset struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	Symbol       Symbol    `json:"symbol"`
	Amount       money.Dec `json:"amount"`
	LockedAmount money.Dec `json:"locked_amount"`
}

// Order is a limit order. LockedUSD is the buy-side reservation
// (volume + fee) and zero for sell orders. CreatedAt participates in
// price-time priority.
type Order struct {
	ID          int64      `json:"id"`
	AccountID   int64      `json:"account_id"`
	Symbol      Symbol     `json:"symbol"`
	Side        Side       `json:"side"`
	Status      Status     `json:"status"`
	Price       money.Dec  `json:"price"`
	Quantity    money.Dec  `json:"quantity"`
	LockedUSD   money.Dec  `json:"locked_usd"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsOpen reports whether the order can still match or be cancelled.
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen
}

// Trade is the immutable record of one settlement.
type Trade struct {
	ID          int64     `json:"id"`
	Symbol      Symbol    `json:"symbol"`
	Price       money.Dec `json:"price"`
	Quantity    money.Dec `json:"quantity"`
	USDVolume   money.Dec `json:"usd_volume"`
	FeeUSD      money.Dec `json:"fee_usd"`
	BuyOrderID  int64     `json:"buy_order_id"`
	SellOrderID int64     `json:"sell_order_id"`
	BuyerID     int64     `json:"buyer_id"`
	SellerID    int64     `json:"seller_id"`
	CreatedAt   time.Time `json:"created_at"`
}
