package escrow

import (
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	testBuyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testSeller = common.HexToAddress("0x00000000000000000000000000000000000000c5")
	testAdmin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

func testOrder(total, locked uint64) LedgerOrder {
	return LedgerOrder{
		ID:            7,
		Buyer:         testBuyer,
		Seller:        testSeller,
		Asset:         NativeAsset,
		TotalAmount:   uint256.NewInt(total),
		LockedBalance: uint256.NewInt(locked),
	}
}

func TestPercentPaidBounds(t *testing.T) {
	totals := []uint64{0, 1, 3, 7, 100, 999, 1_000_000}
	for _, total := range totals {
		for locked := uint64(0); locked <= total && locked <= 1000; locked++ {
			pct := PercentPaid(uint256.NewInt(total), uint256.NewInt(locked))
			if pct > 100 {
				t.Fatalf("percent out of range for total=%d locked=%d: %d", total, locked, pct)
			}
			if total == 0 && pct != 0 {
				t.Fatalf("zero total must report 0, got %d", pct)
			}
			if total > 0 {
				want := (total - locked) * 100 / total
				if uint64(pct) != want {
					t.Fatalf("total=%d locked=%d: expected %d, got %d", total, locked, want, pct)
				}
			}
		}
	}
}

func TestPercentPaidLargeAmounts(t *testing.T) {
	total, _ := ParseUnits("1000000000", NativeDecimals)
	locked, _ := ParseUnits("1", NativeDecimals)
	if got := PercentPaid(total, locked); got != 99 {
		t.Fatalf("expected 99, got %d", got)
	}
	max := new(uint256.Int).SetAllOne()
	if got := PercentPaid(max, new(uint256.Int)); got != 100 {
		t.Fatalf("expected 100 for fully released max amount, got %d", got)
	}
}

func TestBuildViewToleratesInvalidBalances(t *testing.T) {
	order := testOrder(50, 80)
	view := BuildView(order, AdvisoryNone)
	if view.PercentPaid != 0 {
		t.Fatalf("expected 0 percent when locked exceeds total, got %d", view.PercentPaid)
	}
	if !view.Released.IsZero() {
		t.Fatalf("expected zero released, got %s", view.Released.Dec())
	}

	order.TotalAmount = nil
	order.LockedBalance = nil
	view = BuildView(order, AdvisoryNone)
	if view.PercentPaid != 0 || !view.TotalAmount.IsZero() || !view.LockedBalance.IsZero() {
		t.Fatalf("nil amounts should render as zero: %+v", view)
	}
}

func TestBuildViewIsPure(t *testing.T) {
	order := testOrder(100, 60)
	order.Disputed = true
	first := BuildView(order, AdvisoryShipped)
	second := BuildView(order, AdvisoryShipped)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("views differ:\n%+v\n%+v", first, second)
	}

	first.LockedBalance.SetUint64(0)
	if order.LockedBalance.Uint64() != 60 {
		t.Fatalf("view mutation leaked into the ledger record")
	}
	third := BuildView(order, AdvisoryShipped)
	if !reflect.DeepEqual(second, third) {
		t.Fatalf("rebuilding after mutation changed the view")
	}
}

func TestBuildViewStatusPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*LedgerOrder)
		advisory AdvisoryStatus
		want     Status
	}{
		{"completed dominates dispute", func(o *LedgerOrder) { o.Completed, o.Disputed = true, true }, AdvisoryShipped, StatusCompleted},
		{"dispute dominates workflow", func(o *LedgerOrder) { o.Disputed = true }, AdvisoryShipped, StatusDisputed},
		{"dispute before acceptance", func(o *LedgerOrder) { o.Disputed = true }, AdvisoryNone, StatusDisputed},
		{"fresh order", func(*LedgerOrder) {}, AdvisoryNone, StatusWaitingAcceptance},
		{"unknown advisory", func(*LedgerOrder) {}, AdvisoryStatus("bogus"), StatusWaitingAcceptance},
		{"accepted", func(*LedgerOrder) {}, AdvisoryAccepted, StatusActive},
		{"shipped", func(*LedgerOrder) {}, AdvisoryShipped, StatusShipped},
		{"ledger accepted only", func(o *LedgerOrder) { o.Accepted = true }, AdvisoryNone, StatusActive},
		{"ledger shipped only", func(o *LedgerOrder) { o.Accepted, o.Shipped = true, true }, AdvisoryNone, StatusShipped},
	}
	for _, tc := range cases {
		order := testOrder(100, 100)
		tc.mutate(&order)
		view := BuildView(order, tc.advisory)
		if view.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, view.Status)
		}
	}
}

func TestBuildViewFlagsNeverRegress(t *testing.T) {
	statuses := []AdvisoryStatus{AdvisoryNone, AdvisoryAccepted, AdvisoryShipped}
	for _, advisory := range statuses {
		for _, ledgerAccepted := range []bool{false, true} {
			for _, ledgerShipped := range []bool{false, true} {
				order := testOrder(100, 100)
				order.Accepted = ledgerAccepted
				order.Shipped = ledgerShipped
				view := BuildView(order, advisory)

				wantAccepted := ledgerAccepted || advisory != AdvisoryNone
				wantShipped := ledgerShipped || advisory == AdvisoryShipped
				if view.IsAccepted != wantAccepted {
					t.Fatalf("advisory=%s ledger=%v: accepted=%v", advisory, ledgerAccepted, view.IsAccepted)
				}
				if view.IsShipped != wantShipped {
					t.Fatalf("advisory=%s ledger=%v: shipped=%v", advisory, ledgerShipped, view.IsShipped)
				}
			}
		}
	}
}

func TestAdvisoryRank(t *testing.T) {
	if !(AdvisoryNone.Rank() < AdvisoryAccepted.Rank() && AdvisoryAccepted.Rank() < AdvisoryShipped.Rank()) {
		t.Fatalf("advisory ranks are not monotonic")
	}
	if AdvisoryStatus("").Normalize() != AdvisoryNone {
		t.Fatalf("empty advisory status should normalize to none")
	}
}
