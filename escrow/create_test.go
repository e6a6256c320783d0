package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestValidateCreate(t *testing.T) {
	usdc := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	assets := DefaultAssets(usdc)
	stable, _ := assets.BySymbol("usdc")

	valid := CreateOrder{Seller: testSeller, Asset: stable, Amount: uint256.NewInt(5_000_000)}
	if err := ValidateCreate(testBuyer, valid, assets); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}

	self := valid
	self.Seller = testBuyer
	if err := ValidateCreate(testBuyer, self, assets); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("self trade: expected rejection, got %v", err)
	}

	zero := valid
	zero.Amount = new(uint256.Int)
	if err := ValidateCreate(testBuyer, zero, assets); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("zero amount: expected rejection, got %v", err)
	}

	unknown := valid
	unknown.Asset = Asset{Symbol: "DAI", Token: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18}
	if err := ValidateCreate(testBuyer, unknown, assets); !errors.Is(err, ErrValidationRejected) {
		t.Fatalf("unknown asset: expected rejection, got %v", err)
	}

	if err := ValidateCreate(common.Address{}, valid, assets); !errors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("anonymous buyer: expected denial, got %v", err)
	}
}

func TestAssetRegistryResolve(t *testing.T) {
	usdc := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	assets := DefaultAssets(usdc)
	if got := assets.Resolve(common.Address{}); !got.IsNative() || got.Decimals != 18 {
		t.Fatalf("unexpected native asset %+v", got)
	}
	if got := assets.Resolve(usdc); got.Symbol != "USDC" || got.Decimals != 6 {
		t.Fatalf("unexpected stable asset %+v", got)
	}
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	if got := assets.Resolve(other); got.Symbol != "UNKNOWN" || got.Decimals != 18 {
		t.Fatalf("unexpected fallback asset %+v", got)
	}
	if _, err := NewAssetRegistry(NativeAsset, Asset{Symbol: "eth", Token: usdc, Decimals: 6}); err == nil {
		t.Fatalf("expected duplicate symbol error")
	}
}

func TestPolicies(t *testing.T) {
	admin, err := NewSingleAdmin("0x1F67F8587D443520E4B3EFC3D1F6F657B653C829")
	if err != nil {
		t.Fatalf("parse admin: %v", err)
	}
	lower := common.HexToAddress("0x1f67f8587d443520e4b3efc3d1f6f657b653c829")
	if !admin.IsAdmin(lower) {
		t.Fatalf("admin comparison must be case-insensitive")
	}
	if admin.IsAdmin(testBuyer) {
		t.Fatalf("unexpected admin match")
	}
	if _, err := NewSingleAdmin("0x0000000000000000000000000000000000000000"); err == nil {
		t.Fatalf("zero admin must be rejected")
	}
	if _, err := NewSingleAdmin("not-an-address"); err == nil {
		t.Fatalf("malformed admin must be rejected")
	}

	list, err := NewAdminList(testAdmin.Hex(), testSeller.Hex())
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if !list.IsAdmin(testSeller) || list.IsAdmin(testBuyer) {
		t.Fatalf("unexpected admin list membership")
	}
	if _, err := NewAdminList(testAdmin.Hex(), testAdmin.Hex()); err == nil {
		t.Fatalf("duplicate admin must be rejected")
	}
}
