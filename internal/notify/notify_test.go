package notify

import (
	"encoding/json"
	"testing"

	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"
)

func TestSettlementPayloadShape(t *testing.T) {
	s := Settlement{
		Trade: &models.Trade{
			ID:          1,
			Symbol:      models.SymbolBTC,
			Price:       money.MustParse("95000", money.USDScale),
			Quantity:    money.MustParse("0.01", money.AssetScale),
			USDVolume:   money.MustParse("950", money.USDScale),
			FeeUSD:      money.MustParse("14.25", money.USDScale),
			BuyOrderID:  10,
			SellOrderID: 11,
			BuyerID:     2,
			SellerID:    3,
		},
		Account: AccountSnapshot{
			BalanceUSD: money.MustParse("99035.75", money.USDScale),
			Wallets: []Wallet{{
				Symbol:       models.SymbolBTC,
				Amount:       money.MustParse("0.01", money.AssetScale),
				LockedAmount: money.Zero(money.AssetScale),
			}},
		},
		OrderStatuses: map[int64]models.Status{
			10: models.StatusFilled,
			11: models.StatusFilled,
		},
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"trade", "account", "orders"} {
		if _, ok := out[key]; !ok {
			t.Errorf("payload missing %q key", key)
		}
	}

	var trade map[string]any
	if err := json.Unmarshal(out["trade"], &trade); err != nil {
		t.Fatal(err)
	}
	// Monetary values travel as strings, never as floats.
	if got, ok := trade["price"].(string); !ok || got != "95000.00000000" {
		t.Errorf("trade price = %v, want string 95000.00000000", trade["price"])
	}
	if got, ok := trade["fee_usd"].(string); !ok || got != "14.25000000" {
		t.Errorf("trade fee = %v, want string 14.25000000", trade["fee_usd"])
	}

	var orders map[string]string
	if err := json.Unmarshal(out["orders"], &orders); err != nil {
		t.Fatal(err)
	}
	if orders["10"] != "filled" || orders["11"] != "filled" {
		t.Errorf("order statuses = %v, want both filled", orders)
	}

	var account map[string]any
	if err := json.Unmarshal(out["account"], &account); err != nil {
		t.Fatal(err)
	}
	if got := account["balance_usd"]; got != "99035.75000000" {
		t.Errorf("snapshot balance = %v, want 99035.75000000", got)
	}
}
