package fees

import (
	"testing"

	"github.com/xtrntr/spot/internal/money"
)

func TestRate(t *testing.T) {
	if got := Rate().String(); got != "0.01500000" {
		t.Errorf("rate = %s, want 0.01500000", got)
	}
}

// Worked example: 0.01 BTC at 95000 USD with the 1.5% fee rate.
func TestFeeSchedule(t *testing.T) {
	price := money.MustParse("95000.00000000", money.USDScale)
	qty := money.MustParse("0.010000000000000000", money.AssetScale)

	volume := Volume(price, qty, money.USDScale)
	if got := volume.String(); got != "950.00000000" {
		t.Errorf("volume = %s, want 950.00000000", got)
	}
	if got := Fee(volume, money.USDScale).String(); got != "14.25000000" {
		t.Errorf("fee = %s, want 14.25000000", got)
	}
	if got := Total(price, qty, money.USDScale).String(); got != "964.25000000" {
		t.Errorf("total = %s, want 964.25000000", got)
	}
}

func TestFee_TruncatesNotRounds(t *testing.T) {
	// 0.00000001 * 0.015 = 0.00000000015, truncated to zero at scale 8.
	volume := money.MustParse("0.00000001", money.USDScale)
	if got := Fee(volume, money.USDScale); got.Sign() != 0 {
		t.Errorf("fee = %s, want 0", got)
	}

	// 1.23456789 * 0.015 = 0.0185185..., truncated to 0.01851851.
	volume = money.MustParse("1.23456789", money.USDScale)
	if got := Fee(volume, money.USDScale).String(); got != "0.01851851" {
		t.Errorf("fee = %s, want 0.01851851", got)
	}
}

func TestTotal_SellerReceivesRawVolume(t *testing.T) {
	price := money.MustParse("100.00000000", money.USDScale)
	qty := money.MustParse("2.000000000000000000", money.AssetScale)

	volume := Volume(price, qty, money.USDScale)
	total := Total(price, qty, money.USDScale)

	// The difference between what the buyer reserves and what the seller
	// receives is exactly the fee.
	diff := money.Sub(total, volume, money.USDScale)
	if diff.String() != Fee(volume, money.USDScale).String() {
		t.Errorf("total - volume = %s, want fee %s", diff, Fee(volume, money.USDScale))
	}
}
