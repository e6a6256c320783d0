package trust

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"trustlink/escrow"
)

var (
	seller = common.HexToAddress("0x00000000000000000000000000000000000000c5")
	other  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	usdc   = escrow.StableAsset(common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"))
)

func completed(s common.Address, asset escrow.Asset, amount string, disputed bool) escrow.OrderView {
	total, err := escrow.ParseUnits(amount, asset.Decimals)
	if err != nil {
		panic(err)
	}
	order := escrow.LedgerOrder{
		Seller:        s,
		Asset:         asset,
		TotalAmount:   total,
		LockedBalance: new(uint256.Int),
		Completed:     true,
		Disputed:      disputed,
	}
	return escrow.BuildView(order, escrow.AdvisoryShipped)
}

// cancelled mirrors a buyer cancel: refunded and completed, never accepted.
func cancelled(s common.Address, asset escrow.Asset, amount string) escrow.OrderView {
	total, err := escrow.ParseUnits(amount, asset.Decimals)
	if err != nil {
		panic(err)
	}
	return escrow.BuildView(escrow.LedgerOrder{
		Seller:        s,
		Asset:         asset,
		TotalAmount:   total,
		LockedBalance: new(uint256.Int),
		Completed:     true,
	}, escrow.AdvisoryNone)
}

func TestTierFor(t *testing.T) {
	cases := map[string]Tier{
		"0":        TierNew,
		"99.99":    TierNew,
		"100":      TierBronze,
		"999":      TierBronze,
		"1000":     TierSilver,
		"10000":    TierGold,
		"49999.99": TierGold,
		"50000":    TierLegend,
	}
	for volume, want := range cases {
		if got := TierFor(decimal.RequireFromString(volume)); got != want {
			t.Fatalf("volume %s: expected %s, got %s", volume, want, got)
		}
	}
}

func TestComputeCountsCleanCompletions(t *testing.T) {
	open := completed(seller, escrow.NativeAsset, "10", false)
	open.IsCompleted = false
	views := []escrow.OrderView{
		completed(seller, escrow.NativeAsset, "0.5", false),
		completed(seller, usdc, "250", false),
		completed(seller, escrow.NativeAsset, "100", true),
		completed(other, escrow.NativeAsset, "100", false),
		open,
	}
	badge := Compute(seller, views, nil)
	if badge.Completed != 2 {
		t.Fatalf("expected 2 counted orders, got %d", badge.Completed)
	}
	if !badge.VolumeUSD.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected 1500 USD, got %s", badge.VolumeUSD)
	}
	if badge.Tier != TierSilver || badge.Label != "Silver Expert" {
		t.Fatalf("unexpected tier %s (%s)", badge.Tier, badge.Label)
	}
	if badge.NextTier != TierGold || !badge.NextAt.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("unexpected next tier %s at %s", badge.NextTier, badge.NextAt)
	}
}

func TestComputeSumsExactly(t *testing.T) {
	views := make([]escrow.OrderView, 0, 1000)
	for i := 0; i < 1000; i++ {
		views = append(views, completed(seller, usdc, "0.1", false))
	}
	badge := Compute(seller, views, Prices{"USDC": decimal.NewFromInt(1)})
	if !badge.VolumeUSD.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected exactly 100 USD, got %s", badge.VolumeUSD)
	}
	if badge.Tier != TierBronze {
		t.Fatalf("expected %s, got %s", TierBronze, badge.Tier)
	}
}

func TestComputeIgnoresCancelledOrders(t *testing.T) {
	views := []escrow.OrderView{
		cancelled(seller, escrow.NativeAsset, "4"),
		cancelled(seller, usdc, "50000"),
	}
	badge := Compute(seller, views, nil)
	if badge.Completed != 0 || !badge.VolumeUSD.IsZero() || badge.Tier != TierNew {
		t.Fatalf("cancelled orders must not count: %+v", badge)
	}
	if Counts(views[0]) {
		t.Fatalf("cancelled order reported as counting")
	}
}

func TestComputeUnknownAssetHasNoValue(t *testing.T) {
	unknown := escrow.Asset{Symbol: "UNKNOWN", Decimals: 18}
	badge := Compute(seller, []escrow.OrderView{completed(seller, unknown, "1000", false)}, Prices{"ETH": decimal.NewFromInt(2500)})
	if !badge.VolumeUSD.IsZero() || badge.Tier != TierNew {
		t.Fatalf("unexpected badge %+v", badge)
	}
	legend := Compute(seller, []escrow.OrderView{completed(seller, escrow.NativeAsset, "40", false)}, nil)
	if legend.Tier != TierLegend || legend.NextTier != "" {
		t.Fatalf("unexpected top badge %+v", legend)
	}
}
