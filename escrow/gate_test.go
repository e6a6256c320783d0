package escrow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var testPolicy = SingleAdmin(testAdmin)

func actionsFor(t *testing.T, view OrderView, viewer common.Address) []Action {
	t.Helper()
	return LegalActions(view, viewer, testPolicy)
}

func TestLegalActionsTable(t *testing.T) {
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	cases := []struct {
		name     string
		order    func() LedgerOrder
		advisory AdvisoryStatus
		buyer    []Action
		seller   []Action
		admin    []Action
	}{
		{
			name:     "waiting acceptance",
			order:    func() LedgerOrder { return testOrder(100, 100) },
			advisory: AdvisoryNone,
			buyer:    []Action{ActionCancel},
			seller:   []Action{ActionAccept},
			admin:    []Action{},
		},
		{
			name:     "active",
			order:    func() LedgerOrder { return testOrder(100, 100) },
			advisory: AdvisoryAccepted,
			buyer:    []Action{ActionPartialRelease, ActionDispute},
			seller:   []Action{ActionMarkShipped, ActionDispute},
			admin:    []Action{},
		},
		{
			name:     "shipped",
			order:    func() LedgerOrder { return testOrder(100, 40) },
			advisory: AdvisoryShipped,
			buyer:    []Action{ActionFullRelease, ActionDispute},
			seller:   []Action{ActionDispute},
			admin:    []Action{},
		},
		{
			name: "disputed",
			order: func() LedgerOrder {
				o := testOrder(100, 100)
				o.Disputed = true
				return o
			},
			advisory: AdvisoryShipped,
			buyer:    []Action{},
			seller:   []Action{},
			admin:    []Action{ActionResolveToBuyer, ActionResolveToSeller},
		},
		{
			name: "completed",
			order: func() LedgerOrder {
				o := testOrder(100, 0)
				o.Completed = true
				o.Disputed = true
				return o
			},
			advisory: AdvisoryShipped,
			buyer:    []Action{},
			seller:   []Action{},
			admin:    []Action{},
		},
	}
	for _, tc := range cases {
		view := BuildView(tc.order(), tc.advisory)
		if got := actionsFor(t, view, testBuyer); !reflect.DeepEqual(got, tc.buyer) {
			t.Fatalf("%s buyer: expected %v, got %v", tc.name, tc.buyer, got)
		}
		if got := actionsFor(t, view, testSeller); !reflect.DeepEqual(got, tc.seller) {
			t.Fatalf("%s seller: expected %v, got %v", tc.name, tc.seller, got)
		}
		if got := actionsFor(t, view, testAdmin); !reflect.DeepEqual(got, tc.admin) {
			t.Fatalf("%s admin: expected %v, got %v", tc.name, tc.admin, got)
		}
		if got := actionsFor(t, view, stranger); len(got) != 0 {
			t.Fatalf("%s stranger: expected no actions, got %v", tc.name, got)
		}
		if got := actionsFor(t, view, common.Address{}); len(got) != 0 {
			t.Fatalf("%s zero viewer: expected no actions, got %v", tc.name, got)
		}
	}
}

func TestLegalActionsAdminPartyUnion(t *testing.T) {
	order := testOrder(100, 100)
	order.Disputed = true
	view := BuildView(order, AdvisoryAccepted)
	policy := SingleAdmin(testBuyer)

	got := LegalActions(view, testBuyer, policy)
	want := []Action{ActionResolveToBuyer, ActionResolveToSeller}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	active := BuildView(testOrder(100, 100), AdvisoryAccepted)
	got = LegalActions(active, testBuyer, policy)
	want = []Action{ActionPartialRelease, ActionDispute}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("admin buyer on active order: expected %v, got %v", want, got)
	}
}

func TestLegalActionsNilPolicy(t *testing.T) {
	order := testOrder(100, 100)
	order.Disputed = true
	if got := LegalActions(BuildView(order, AdvisoryNone), testAdmin, nil); len(got) != 0 {
		t.Fatalf("nil policy must not grant admin actions, got %v", got)
	}
}

func TestValidatePartialReleaseBounds(t *testing.T) {
	view := BuildView(testOrder(100, 60), AdvisoryAccepted)
	for _, amount := range []uint64{61, 100, 1 << 40} {
		_, err := Validate(view, testBuyer, ActionPartialRelease, Params{Amount: uint256.NewInt(amount)}, testPolicy)
		if !errors.Is(err, ErrValidationRejected) {
			t.Fatalf("amount %d: expected validation rejection, got %v", amount, err)
		}
	}
	if _, err := Validate(view, testBuyer, ActionPartialRelease, Params{}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("missing amount: expected rejection, got %v", err)
	}
	if _, err := Validate(view, testBuyer, ActionPartialRelease, Params{Amount: new(uint256.Int)}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("zero amount: expected rejection, got %v", err)
	}

	plan, err := Validate(view, testBuyer, ActionPartialRelease, Params{Amount: uint256.NewInt(60)}, testPolicy)
	if err != nil {
		t.Fatalf("release of the full locked balance: %v", err)
	}
	if plan.Target != TargetLedger || plan.Amount.Uint64() != 60 || plan.Noop {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestValidateCancelRejectedOnceAccepted(t *testing.T) {
	accepted := []OrderView{
		BuildView(testOrder(100, 100), AdvisoryAccepted),
		BuildView(testOrder(100, 100), AdvisoryShipped),
		func() OrderView {
			o := testOrder(100, 100)
			o.Accepted = true
			return BuildView(o, AdvisoryNone)
		}(),
	}
	viewers := []common.Address{testBuyer, testSeller, testAdmin}
	for _, view := range accepted {
		for _, viewer := range viewers {
			if _, err := Validate(view, viewer, ActionCancel, Params{}, testPolicy); err == nil {
				t.Fatalf("cancel by %s accepted on %s order", viewer.Hex(), view.Status)
			}
		}
	}

	plan, err := Validate(BuildView(testOrder(100, 100), AdvisoryNone), testBuyer, ActionCancel, Params{}, testPolicy)
	if err != nil {
		t.Fatalf("cancel before acceptance: %v", err)
	}
	if plan.Target != TargetLedger {
		t.Fatalf("cancel must write to the ledger, got %s", plan.Target)
	}
}

func TestValidateAuthorization(t *testing.T) {
	waiting := BuildView(testOrder(100, 100), AdvisoryNone)
	if _, err := Validate(waiting, testSeller, ActionCancel, Params{}, testPolicy); !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("seller cancel: expected authorization denial, got %v", err)
	}
	if _, err := Validate(waiting, testBuyer, ActionAccept, Params{}, testPolicy); !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("buyer accept: expected authorization denial, got %v", err)
	}

	order := testOrder(100, 100)
	order.Disputed = true
	disputed := BuildView(order, AdvisoryAccepted)
	for _, viewer := range []common.Address{testBuyer, testSeller} {
		if _, err := Validate(disputed, viewer, ActionResolveToSeller, Params{Winner: testSeller}, testPolicy); !errors.Is(err, ErrAuthorizationDenied) {
			t.Fatalf("party resolve: expected authorization denial, got %v", err)
		}
	}
	// Authorization is checked before the terminal state.
	order.Completed = true
	if _, err := Validate(BuildView(order, AdvisoryNone), testBuyer, ActionResolveToBuyer, Params{}, testPolicy); !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected authorization denial on completed order, got %v", err)
	}
}

func TestValidateAdvisoryMonotonic(t *testing.T) {
	shipped := BuildView(testOrder(100, 100), AdvisoryShipped)
	if _, err := Validate(shipped, testSeller, ActionAccept, Params{}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("accept after ship: expected rejection, got %v", err)
	}
	plan, err := Validate(shipped, testSeller, ActionMarkShipped, Params{}, testPolicy)
	if err != nil || !plan.Noop {
		t.Fatalf("repeat ship should be a noop: plan=%+v err=%v", plan, err)
	}

	waiting := BuildView(testOrder(100, 100), AdvisoryNone)
	if _, err := Validate(waiting, testSeller, ActionMarkShipped, Params{}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("ship before accept: expected rejection, got %v", err)
	}
	plan, err = Validate(waiting, testSeller, ActionAccept, Params{}, testPolicy)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if plan.Target != TargetAdvisory || plan.Advisory != AdvisoryAccepted {
		t.Fatalf("accept must write advisory only: %+v", plan)
	}
}

func TestValidateFullRelease(t *testing.T) {
	shipped := BuildView(testOrder(100, 35), AdvisoryShipped)
	plan, err := Validate(shipped, testBuyer, ActionFullRelease, Params{Amount: uint256.NewInt(1)}, testPolicy)
	if err != nil {
		t.Fatalf("full release: %v", err)
	}
	if plan.Amount.Uint64() != 35 {
		t.Fatalf("full release must release the locked balance, got %s", plan.Amount.Dec())
	}

	empty := BuildView(testOrder(100, 0), AdvisoryShipped)
	if _, err := Validate(empty, testBuyer, ActionFullRelease, Params{}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("expected rejection with nothing locked, got %v", err)
	}
	active := BuildView(testOrder(100, 100), AdvisoryAccepted)
	if _, err := Validate(active, testBuyer, ActionFullRelease, Params{}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("expected rejection before shipment, got %v", err)
	}
}

func TestValidateDisputeIdempotent(t *testing.T) {
	order := testOrder(100, 100)
	order.Disputed = true
	plan, err := Validate(BuildView(order, AdvisoryAccepted), testSeller, ActionDispute, Params{}, testPolicy)
	if err != nil {
		t.Fatalf("repeat dispute: %v", err)
	}
	if !plan.Noop || plan.Target != TargetNone {
		t.Fatalf("repeat dispute should be a noop: %+v", plan)
	}

	order.Completed = true
	if _, err := Validate(BuildView(order, AdvisoryAccepted), testSeller, ActionDispute, Params{}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("dispute after completion: expected rejection, got %v", err)
	}
}

func TestValidateResolveWinner(t *testing.T) {
	order := testOrder(100, 100)
	order.Disputed = true
	view := BuildView(order, AdvisoryAccepted)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	if _, err := Validate(view, testAdmin, ActionResolveToSeller, Params{Winner: stranger}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("foreign winner: expected rejection, got %v", err)
	}
	if _, err := Validate(view, testAdmin, ActionResolveToSeller, Params{Winner: testBuyer}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("mismatched winner: expected rejection, got %v", err)
	}
	plan, err := Validate(view, testAdmin, ActionResolveToBuyer, Params{}, testPolicy)
	if err != nil {
		t.Fatalf("resolve to buyer: %v", err)
	}
	if plan.Winner != testBuyer {
		t.Fatalf("expected buyer as winner, got %s", plan.Winner.Hex())
	}

	active := BuildView(testOrder(100, 100), AdvisoryAccepted)
	if _, err := Validate(active, testAdmin, ActionResolveToSeller, Params{Winner: testSeller}, testPolicy); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("resolve without dispute: expected rejection, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("partial_release"); err != nil || a != ActionPartialRelease {
		t.Fatalf("unexpected parse result %q %v", a, err)
	}
	if _, err := ParseAction("refund"); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("expected rejection for unknown action, got %v", err)
	}
}
