// Package notify defines the outbound settlement notification port and a
// websocket delivery adapter. The settlement engine depends only on the
// Notifier interface and calls it strictly after commit.
package notify

import (
	"context"

	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"
)

// Wallet is one asset line in an account snapshot.
type Wallet struct {
	Symbol       models.Symbol `json:"symbol"`
	Amount       money.Dec     `json:"amount"`
	LockedAmount money.Dec     `json:"locked_amount"`
}

// AccountSnapshot is the counterparty's authoritative post-trade state.
// It is a full snapshot, not a delta, so redelivery is idempotent for the
// consumer.
type AccountSnapshot struct {
	BalanceUSD money.Dec `json:"balance_usd"`
	Wallets    []Wallet  `json:"wallets"`
}

// Settlement is delivered once per counterparty after a trade commits.
type Settlement struct {
	Trade         *models.Trade           `json:"trade"`
	Account       AccountSnapshot         `json:"account"`
	OrderStatuses map[int64]models.Status `json:"orders"`
}

// Notifier is the delivery port. Implementations must not block settlement:
// delivery failures are the adapter's problem, never the ledger's.
type Notifier interface {
	NotifySettlement(ctx context.Context, accountID int64, s Settlement)
}

// NopNotifier discards notifications. Used in tests and tools.
type NopNotifier struct{}

func (NopNotifier) NotifySettlement(context.Context, int64, Settlement) {}
