// Package trust grades sellers by the volume they have completed cleanly.
package trust

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"trustlink/escrow"
)

// Tier is a seller reputation level.
type Tier string

const (
	TierNew    Tier = "NEW"
	TierBronze Tier = "BRONZE"
	TierSilver Tier = "SILVER"
	TierGold   Tier = "GOLD"
	TierLegend Tier = "LEGEND"
)

type threshold struct {
	tier  Tier
	usd   decimal.Decimal
	label string
}

// Ordered from the highest tier down.
var thresholds = []threshold{
	{TierLegend, decimal.NewFromInt(50_000), "Trust Whale"},
	{TierGold, decimal.NewFromInt(10_000), "Gold Legend"},
	{TierSilver, decimal.NewFromInt(1_000), "Silver Expert"},
	{TierBronze, decimal.NewFromInt(100), "Bronze Trader"},
	{TierNew, decimal.Zero, "New Member"},
}

// Label returns the display name of the tier.
func (t Tier) Label() string {
	for _, th := range thresholds {
		if th.tier == t {
			return th.label
		}
	}
	return "New Member"
}

// TierFor maps a USD volume onto a tier.
func TierFor(volumeUSD decimal.Decimal) Tier {
	for _, th := range thresholds {
		if volumeUSD.GreaterThanOrEqual(th.usd) {
			return th.tier
		}
	}
	return TierNew
}

// Prices holds USD prices per whole unit, keyed by asset symbol.
type Prices map[string]decimal.Decimal

// DefaultPrices is used when no price table is configured.
var DefaultPrices = Prices{
	"ETH":  decimal.NewFromInt(2500),
	"USDC": decimal.NewFromInt(1),
}

// Value prices amount minor units of asset. Unpriced assets are worth zero.
func (p Prices) Value(asset escrow.Asset, amount *uint256.Int) decimal.Decimal {
	price, ok := p[strings.ToUpper(asset.Symbol)]
	if !ok || !price.IsPositive() || amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(asset.Decimals)).Mul(price)
}

// Badge summarises a seller's standing.
type Badge struct {
	Address   common.Address
	Tier      Tier
	Label     string
	VolumeUSD decimal.Decimal
	Completed int
	// NextTier is empty at the top tier.
	NextTier Tier
	NextAt   decimal.Decimal
}

// Counts reports whether view adds to the seller's volume. A cancelled
// order completes without ever being accepted and is excluded.
func Counts(view escrow.OrderView) bool {
	return view.IsAccepted && view.IsCompleted && !view.IsDisputed && view.TotalAmount != nil
}

// Compute grades seller over views.
func Compute(seller common.Address, views []escrow.OrderView, prices Prices) Badge {
	if prices == nil {
		prices = DefaultPrices
	}
	badge := Badge{Address: seller, VolumeUSD: decimal.Zero}
	for _, view := range views {
		if view.Seller != seller || !Counts(view) {
			continue
		}
		badge.VolumeUSD = badge.VolumeUSD.Add(prices.Value(view.Asset, view.TotalAmount))
		badge.Completed++
	}
	badge.Tier = TierFor(badge.VolumeUSD)
	badge.Label = badge.Tier.Label()
	for i, th := range thresholds {
		if th.tier == badge.Tier && i > 0 {
			badge.NextTier = thresholds[i-1].tier
			badge.NextAt = thresholds[i-1].usd
		}
	}
	return badge
}
