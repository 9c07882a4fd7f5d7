package schema

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestParseSide(t *testing.T) {
	cases := []struct {
		raw  string
		want Side
		ok   bool
	}{
		{"B", SideBuy, true},
		{"A", SideSell, true},
		{"buy", SideBuy, true},
		{"Sell", SideSell, true},
		{" bid ", SideBuy, true},
		{"hold", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseSide(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseSide(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestTradeDecode(t *testing.T) {
	raw := []byte(`{"coin":"HYPE","side":"B","px":"24.175","sz":"12.5","time":1717171717000,"hash":"0xabc","tid":42}`)

	var trade Trade
	if err := json.Unmarshal(raw, &trade); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if trade.Coin != "HYPE" || !trade.Side.IsBuy() {
		t.Errorf("unexpected trade identity: %+v", trade)
	}
	if trade.Px.String() != "24.175" || trade.Sz.String() != "12.5" {
		t.Errorf("expected decimal fields preserved, got px=%s sz=%s", trade.Px, trade.Sz)
	}
}

func TestAssetCtxDecodeWithNulls(t *testing.T) {
	raw := []byte(`{"funding":"0.0000125","openInterest":"120450.2","premium":null,"dayNtlVlm":"981234.55","markPx":"3.1415","midPx":null,"prevDayPx":"3.05"}`)

	var ctx AssetCtx
	if err := json.Unmarshal(raw, &ctx); err != nil {
		t.Fatalf("decode ctx: %v", err)
	}
	if ctx.MidPx.Valid {
		t.Error("expected null midPx to decode as invalid")
	}
	if ctx.MarkPx.String() != "3.1415" {
		t.Errorf("unexpected markPx: %s", ctx.MarkPx)
	}
}
