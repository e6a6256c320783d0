package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CreateOrder is a buyer's request to lock funds against a seller.
type CreateOrder struct {
	Seller common.Address
	Asset  Asset
	Amount *uint256.Int
}

// ValidateCreate enforces the creation rules before the deposit is
// submitted. The ledger is not relied upon to reject self-trades.
func ValidateCreate(buyer common.Address, req CreateOrder, assets *AssetRegistry) error {
	if buyer == (common.Address{}) {
		return denyf("buyer address required")
	}
	if req.Seller == (common.Address{}) {
		return rejectf("seller address required")
	}
	if req.Seller == buyer {
		return rejectf("seller must differ from buyer")
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return rejectf("amount must be positive")
	}
	if _, ok := assets.ByToken(req.Asset.Token); !ok {
		return rejectf("unsupported asset %s", req.Asset.Token.Hex())
	}
	return nil
}
