package pnl

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpscope/perpscope/internal/schema"
)

func fill(coin string, side schema.Side, px, sz string, ts int64) schema.Fill {
	return schema.Fill{
		Coin: coin,
		Side: side,
		Px:   decimal.RequireFromString(px),
		Sz:   decimal.RequireFromString(sz),
		Time: ts,
	}
}

func TestEmptyInput(t *testing.T) {
	got := Compute(nil)

	if !got.TotalRealizedPnl.IsZero() || !got.TotalVolume.IsZero() || got.TotalTrades != 0 {
		t.Errorf("expected all-zero summary, got %+v", got)
	}
	if len(got.Assets) != 0 {
		t.Errorf("expected no asset summaries, got %d", len(got.Assets))
	}
}

func TestBuysOnlyRealizeNothing(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("HYPE", schema.SideBuy, "10", "1", 1),
		fill("HYPE", schema.SideBuy, "12", "2", 2),
		fill("HYPE", schema.SideBuy, "9", "0.5", 3),
	})

	if !got.TotalRealizedPnl.IsZero() {
		t.Errorf("expected zero realized pnl, got %s", got.TotalRealizedPnl)
	}
	if got.TotalTrades != 3 {
		t.Errorf("expected 3 trades, got %d", got.TotalTrades)
	}
	if got.TotalVolume.String() != "38.5" { // 10 + 24 + 4.5
		t.Errorf("expected volume 38.5, got %s", got.TotalVolume)
	}
}

func TestSellsOnlyRealizeNothing(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("HYPE", schema.SideSell, "10", "1", 1),
		fill("HYPE", schema.SideSell, "11", "4", 2),
	})

	if !got.TotalRealizedPnl.IsZero() {
		t.Errorf("expected zero realized pnl with no open lots, got %s", got.TotalRealizedPnl)
	}
	if got.TotalTrades != 2 || got.TotalVolume.String() != "54" {
		t.Errorf("expected counts independent of matching, got trades=%d volume=%s", got.TotalTrades, got.TotalVolume)
	}
}

func TestFIFOMatchesOldestFirst(t *testing.T) {
	// Buys at 10 then 20, sell 2 @ 15: (15-10)*1 + (15-20)*1 = 0.
	got := Compute([]schema.Fill{
		fill("ETH", schema.SideBuy, "10", "1", 1),
		fill("ETH", schema.SideBuy, "20", "1", 2),
		fill("ETH", schema.SideSell, "15", "2", 3),
	})

	if !got.TotalRealizedPnl.IsZero() {
		t.Errorf("expected FIFO pnl of 0, got %s", got.TotalRealizedPnl)
	}
}

func TestPartialMatchLeavesOpenLot(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("BTC", schema.SideBuy, "10", "5", 1),
		fill("BTC", schema.SideSell, "12", "2", 2),
	})

	if got.TotalRealizedPnl.String() != "4" {
		t.Errorf("expected realized pnl 4, got %s", got.TotalRealizedPnl)
	}
	// The remaining open lot (size 3 @ 10) is unrealized and never surfaces.
	if got.TotalVolume.String() != "74" { // 50 + 24
		t.Errorf("expected volume 74, got %s", got.TotalVolume)
	}
}

func TestSellSpanningMultipleLots(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("SOL", schema.SideBuy, "100", "1", 1),
		fill("SOL", schema.SideBuy, "110", "1", 2),
		fill("SOL", schema.SideBuy, "120", "1", 3),
		fill("SOL", schema.SideSell, "130", "2.5", 4),
	})

	// (130-100)*1 + (130-110)*1 + (130-120)*0.5 = 55
	if got.TotalRealizedPnl.String() != "55" {
		t.Errorf("expected realized pnl 55, got %s", got.TotalRealizedPnl)
	}
}

func TestUnmatchedSellRemainderIgnored(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("SOL", schema.SideBuy, "100", "1", 1),
		fill("SOL", schema.SideSell, "120", "3", 2),
	})

	// Only the matched unit realizes; the short remainder contributes zero.
	if got.TotalRealizedPnl.String() != "20" {
		t.Errorf("expected realized pnl 20, got %s", got.TotalRealizedPnl)
	}
}

func TestMultiAssetIsolation(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("ETH", schema.SideBuy, "10", "1", 1),
		fill("BTC", schema.SideBuy, "50", "1", 2),
		fill("ETH", schema.SideSell, "14", "1", 3),
		fill("BTC", schema.SideSell, "48", "1", 4),
	})

	byAsset := make(map[string]AssetSummary, len(got.Assets))
	for _, s := range got.Assets {
		byAsset[s.Asset] = s
	}
	if byAsset["ETH"].RealizedPnl.String() != "4" {
		t.Errorf("expected ETH pnl 4, got %s", byAsset["ETH"].RealizedPnl)
	}
	if byAsset["BTC"].RealizedPnl.String() != "-2" {
		t.Errorf("expected BTC pnl -2, got %s", byAsset["BTC"].RealizedPnl)
	}
	if got.TotalRealizedPnl.String() != "2" {
		t.Errorf("expected total pnl 2, got %s", got.TotalRealizedPnl)
	}
	if got.TotalTrades != 4 {
		t.Errorf("expected 4 trades, got %d", got.TotalTrades)
	}
}

func TestOutOfOrderFillsSortedByTime(t *testing.T) {
	// Same fills as the FIFO case delivered shuffled; time ordering governs matching.
	got := Compute([]schema.Fill{
		fill("ETH", schema.SideSell, "15", "2", 3),
		fill("ETH", schema.SideBuy, "20", "1", 2),
		fill("ETH", schema.SideBuy, "10", "1", 1),
	})

	if !got.TotalRealizedPnl.IsZero() {
		t.Errorf("expected FIFO pnl of 0 after time sort, got %s", got.TotalRealizedPnl)
	}
}

func TestNonPositiveSizeCountedButNotMatched(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("ETH", schema.SideBuy, "10", "0", 1),
		fill("ETH", schema.SideSell, "15", "1", 2),
	})

	// The zero-size buy never opens a lot, so the sell has nothing to match.
	if !got.TotalRealizedPnl.IsZero() {
		t.Errorf("expected zero pnl, got %s", got.TotalRealizedPnl)
	}
	if got.TotalTrades != 2 {
		t.Errorf("expected both fills counted, got %d", got.TotalTrades)
	}
	if got.TotalVolume.String() != "15" {
		t.Errorf("expected volume 15, got %s", got.TotalVolume)
	}
}

func TestTotalsAreExactAssetSums(t *testing.T) {
	got := Compute([]schema.Fill{
		fill("ETH", schema.SideBuy, "10.5", "2", 1),
		fill("BTC", schema.SideBuy, "50000.25", "0.1", 2),
		fill("ETH", schema.SideSell, "11.25", "1.5", 3),
	})

	pnl, volume, trades := decimal.Zero, decimal.Zero, 0
	for _, s := range got.Assets {
		pnl = pnl.Add(s.RealizedPnl)
		volume = volume.Add(s.Volume)
		trades += s.TradeCount
	}
	if !got.TotalRealizedPnl.Equal(pnl) || !got.TotalVolume.Equal(volume) || got.TotalTrades != trades {
		t.Errorf("totals diverge from asset sums: %+v", got)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	fills := []schema.Fill{
		fill("ETH", schema.SideBuy, "10.123456789", "1.000000001", 1),
		fill("ETH", schema.SideSell, "10.987654321", "0.5", 2),
		fill("BTC", schema.SideBuy, "64000.01", "0.025", 3),
	}

	first := Compute(fills)
	second := Compute(fills)

	if first.TotalRealizedPnl.String() != second.TotalRealizedPnl.String() {
		t.Errorf("pnl diverged: %s vs %s", first.TotalRealizedPnl, second.TotalRealizedPnl)
	}
	if first.TotalVolume.String() != second.TotalVolume.String() {
		t.Errorf("volume diverged: %s vs %s", first.TotalVolume, second.TotalVolume)
	}
	if len(first.Assets) != len(second.Assets) {
		t.Fatalf("asset count diverged")
	}
	for i := range first.Assets {
		a, b := first.Assets[i], second.Assets[i]
		if a.Asset != b.Asset || !a.RealizedPnl.Equal(b.RealizedPnl) || !a.Volume.Equal(b.Volume) || a.TradeCount != b.TradeCount {
			t.Errorf("asset summary diverged at %d: %+v vs %+v", i, a, b)
		}
	}
}

func TestInputSliceNotMutated(t *testing.T) {
	fills := []schema.Fill{
		fill("ETH", schema.SideSell, "15", "2", 3),
		fill("ETH", schema.SideBuy, "10", "1", 1),
	}
	Compute(fills)

	if fills[0].Time != 3 || fills[1].Time != 1 {
		t.Error("expected caller's slice order to be preserved")
	}
}
