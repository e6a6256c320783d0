package escrow

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// NativeDecimals is the precision of the chain's native currency.
	NativeDecimals uint8 = 18
	// StableDecimals is the precision of the supported stable token.
	StableDecimals uint8 = 6

	maxDecimals uint8 = 36
)

// Asset describes a currency an order can be denominated in. The native
// currency is identified by the zero token address.
type Asset struct {
	Symbol   string
	Token    common.Address
	Decimals uint8
}

// IsNative reports whether the asset is the chain's native currency.
func (a Asset) IsNative() bool { return a.Token == (common.Address{}) }

// NativeAsset is the chain currency deposited with the escrow call itself.
var NativeAsset = Asset{Symbol: "ETH", Decimals: NativeDecimals}

// StableAsset returns the stable token definition for the supplied contract.
func StableAsset(token common.Address) Asset {
	return Asset{Symbol: "USDC", Token: token, Decimals: StableDecimals}
}

// AssetRegistry resolves ledger token addresses and user supplied symbols.
type AssetRegistry struct {
	byToken  map[common.Address]Asset
	bySymbol map[string]Asset
}

// NewAssetRegistry validates and indexes the supplied assets.
func NewAssetRegistry(assets ...Asset) (*AssetRegistry, error) {
	reg := &AssetRegistry{
		byToken:  make(map[common.Address]Asset, len(assets)),
		bySymbol: make(map[string]Asset, len(assets)),
	}
	for _, asset := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("asset symbol required")
		}
		if asset.Decimals > maxDecimals {
			return nil, fmt.Errorf("asset %s decimals out of range: %d", symbol, asset.Decimals)
		}
		if _, dup := reg.bySymbol[symbol]; dup {
			return nil, fmt.Errorf("duplicate asset symbol: %s", symbol)
		}
		if _, dup := reg.byToken[asset.Token]; dup {
			return nil, fmt.Errorf("duplicate asset token: %s", asset.Token.Hex())
		}
		asset.Symbol = symbol
		reg.byToken[asset.Token] = asset
		reg.bySymbol[symbol] = asset
	}
	return reg, nil
}

// DefaultAssets returns the native currency plus the configured stable token.
func DefaultAssets(stableToken common.Address) *AssetRegistry {
	reg, err := NewAssetRegistry(NativeAsset, StableAsset(stableToken))
	if err != nil {
		panic(err)
	}
	return reg
}

// ByToken looks up an asset by its ledger token address.
func (r *AssetRegistry) ByToken(token common.Address) (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	asset, ok := r.byToken[token]
	return asset, ok
}

// BySymbol looks up an asset by its case-insensitive symbol.
func (r *AssetRegistry) BySymbol(symbol string) (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	asset, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return asset, ok
}

// Resolve maps a ledger token to an asset. Tokens the deployment does not
// know about are still displayable with native precision.
func (r *AssetRegistry) Resolve(token common.Address) Asset {
	if asset, ok := r.ByToken(token); ok {
		return asset
	}
	if token == (common.Address{}) {
		return NativeAsset
	}
	return Asset{Symbol: "UNKNOWN", Token: token, Decimals: NativeDecimals}
}
