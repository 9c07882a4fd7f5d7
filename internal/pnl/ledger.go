// Package pnl computes realized profit-and-loss summaries from raw wallet fills.
package pnl

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/perpscope/perpscope/internal/schema"
)

// AssetSummary aggregates realized PNL, traded volume and fill count for one asset.
type AssetSummary struct {
	Asset       string
	RealizedPnl decimal.Decimal
	Volume      decimal.Decimal
	TradeCount  int
}

// Portfolio aggregates per-asset summaries for a wallet. The totals are exact
// sums of the per-asset values.
type Portfolio struct {
	TotalRealizedPnl decimal.Decimal
	TotalVolume      decimal.Decimal
	TotalTrades      int
	Assets           []AssetSummary
}

// lot is an open buy quantity awaiting FIFO consumption by later sells.
type lot struct {
	px        decimal.Decimal
	remaining decimal.Decimal
}

// Compute derives the realized-PNL breakdown for a wallet's fill history.
//
// Fills are stably sorted by execution time ascending, partitioned per asset
// into buys and sells preserving relative order, and matched FIFO: each sell
// consumes open buy lots oldest-first, realizing (sellPx - lotPx) * matchedQty.
// A sell remainder with no open lot to match (short position or missing
// history) contributes nothing. Volume and trade counts cover every fill
// regardless of matching. The result is a pure function of the input.
func Compute(fills []schema.Fill) Portfolio {
	ordered := make([]schema.Fill, len(fills))
	copy(ordered, fills)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time < ordered[j].Time })

	perAsset := make(map[string][]schema.Fill)
	assetOrder := make([]string, 0)
	for _, fill := range ordered {
		if _, seen := perAsset[fill.Coin]; !seen {
			assetOrder = append(assetOrder, fill.Coin)
		}
		perAsset[fill.Coin] = append(perAsset[fill.Coin], fill)
	}

	portfolio := Portfolio{
		TotalRealizedPnl: decimal.Zero,
		TotalVolume:      decimal.Zero,
		TotalTrades:      0,
		Assets:           make([]AssetSummary, 0, len(assetOrder)),
	}

	for _, asset := range assetOrder {
		summary := computeAsset(asset, perAsset[asset])
		portfolio.TotalRealizedPnl = portfolio.TotalRealizedPnl.Add(summary.RealizedPnl)
		portfolio.TotalVolume = portfolio.TotalVolume.Add(summary.Volume)
		portfolio.TotalTrades += summary.TradeCount
		portfolio.Assets = append(portfolio.Assets, summary)
	}

	return portfolio
}

func computeAsset(asset string, fills []schema.Fill) AssetSummary {
	summary := AssetSummary{
		Asset:       asset,
		RealizedPnl: decimal.Zero,
		Volume:      decimal.Zero,
		TradeCount:  0,
	}

	var buys, sells []schema.Fill
	for _, fill := range fills {
		summary.Volume = summary.Volume.Add(fill.Px.Mul(fill.Sz))
		summary.TradeCount++

		if fill.Sz.LessThanOrEqual(decimal.Zero) {
			// Counted above, excluded from matching.
			continue
		}
		if fill.Side.IsBuy() {
			buys = append(buys, fill)
		} else {
			sells = append(sells, fill)
		}
	}

	lots := make([]lot, 0, len(buys))
	for _, buy := range buys {
		lots = append(lots, lot{px: buy.Px, remaining: buy.Sz})
	}

	for _, sell := range sells {
		remaining := sell.Sz
		for remaining.IsPositive() && len(lots) > 0 {
			front := &lots[0]
			matched := decimal.Min(remaining, front.remaining)
			summary.RealizedPnl = summary.RealizedPnl.Add(sell.Px.Sub(front.px).Mul(matched))
			remaining = remaining.Sub(matched)
			front.remaining = front.remaining.Sub(matched)
			if front.remaining.LessThanOrEqual(decimal.Zero) {
				lots = lots[1:]
			}
		}
		// Any unmatched sell remainder is ignored: short-side accounting is
		// out of scope and contributes zero realized PNL.
	}

	return summary
}
