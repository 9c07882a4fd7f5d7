package feed

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/perpscope/perpscope/internal/schema"
)

func trade(coin string, tid int64, px string) schema.Trade {
	return schema.Trade{
		Coin: coin,
		Side: schema.SideBuy,
		Px:   decimal.RequireFromString(px),
		Sz:   decimal.NewFromInt(1),
		Time: tid,
		TID:  tid,
	}
}

func TestEmptyFeed(t *testing.T) {
	f := New(8)
	if f.Len() != 0 {
		t.Errorf("expected empty feed, got %d", f.Len())
	}
	if got := f.Recent(10); len(got) != 0 {
		t.Errorf("expected no trades, got %d", len(got))
	}
	if _, ok := f.LastPrice("HYPE"); ok {
		t.Error("expected no price for unseen coin")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	f := New(8)
	for i := int64(1); i <= 3; i++ {
		f.RecordTrade(trade("HYPE", i, fmt.Sprintf("%d.0", i)))
	}

	got := f.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(got))
	}
	if got[0].TID != 3 || got[1].TID != 2 || got[2].TID != 1 {
		t.Errorf("expected newest first, got %v %v %v", got[0].TID, got[1].TID, got[2].TID)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	f := New(4)
	for i := int64(1); i <= 6; i++ {
		f.RecordTrade(trade("HYPE", i, "1.0"))
	}

	if f.Len() != 4 {
		t.Fatalf("expected capacity retained, got %d", f.Len())
	}
	got := f.Recent(0)
	want := []int64{6, 5, 4, 3}
	for i, tid := range want {
		if got[i].TID != tid {
			t.Errorf("position %d: expected tid %d, got %d", i, tid, got[i].TID)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	f := New(8)
	for i := int64(1); i <= 5; i++ {
		f.RecordTrade(trade("HYPE", i, "1.0"))
	}
	got := f.Recent(2)
	if len(got) != 2 || got[0].TID != 5 || got[1].TID != 4 {
		t.Errorf("expected the 2 newest trades, got %+v", got)
	}
}

func TestLastPriceFromTradesAndMids(t *testing.T) {
	f := New(8)
	f.RecordTrade(trade("HYPE", 1, "24.5"))
	if px, ok := f.LastPrice("HYPE"); !ok || px.String() != "24.5" {
		t.Errorf("expected trade price 24.5, got %v %v", px, ok)
	}

	f.UpdateMids(map[string]decimal.Decimal{
		"HYPE": decimal.RequireFromString("24.7"),
		"PURR": decimal.RequireFromString("0.31"),
	})
	if px, _ := f.LastPrice("HYPE"); px.String() != "24.7" {
		t.Errorf("expected mid to overwrite trade price, got %v", px)
	}
	if px, ok := f.LastPrice("PURR"); !ok || px.String() != "0.31" {
		t.Errorf("expected PURR mid recorded, got %v %v", px, ok)
	}

	prices := f.Prices()
	if len(prices) != 2 {
		t.Errorf("expected 2 entries in price table, got %d", len(prices))
	}
}

func TestDefaultCapacity(t *testing.T) {
	f := New(0)
	for i := int64(0); i < int64(defaultCapacity)+10; i++ {
		f.RecordTrade(trade("HYPE", i, "1.0"))
	}
	if f.Len() != defaultCapacity {
		t.Errorf("expected default capacity %d, got %d", defaultCapacity, f.Len())
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	f := New(64)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 500; i++ {
			f.RecordTrade(trade("HYPE", i, "1.0"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = f.Recent(10)
			_, _ = f.LastPrice("HYPE")
		}
	}()
	wg.Wait()
	if f.Len() != 64 {
		t.Errorf("expected full ring, got %d", f.Len())
	}
}
