package venue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/perpscope/perpscope/config"
	"github.com/perpscope/perpscope/errs"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.VenueSettings{
		InfoURL:        srv.URL,
		HTTPTimeout:    2 * time.Second,
		RequestsPerSec: 100,
		RequestBurst:   100,
	})
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestMeta(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["type"] != "meta" {
			t.Errorf("expected meta request, got %v", body)
		}
		_, _ = w.Write([]byte(`{"universe":[{"name":"HYPE","szDecimals":2,"maxLeverage":10},{"name":"OLD","maxLeverage":3,"isDelisted":true}]}`))
	})

	markets, err := client.Meta(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 2 || markets[0].Name != "HYPE" || !markets[1].IsDelisted {
		t.Errorf("unexpected universe: %+v", markets)
	}
}

func TestAllMids(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"HYPE":"24.175","PURR":"0.31"}`))
	})

	mids, err := client.AllMids(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mids["HYPE"].String() != "24.175" {
		t.Errorf("unexpected mid: %s", mids["HYPE"])
	}
}

func TestMetaAndAssetCtxs(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"universe":[{"name":"HYPE","maxLeverage":10}]},[{"funding":"0.0000125","openInterest":"1200","premium":null,"dayNtlVlm":"98765.4","markPx":"24.2","midPx":"24.18","prevDayPx":"23.9"}]]`))
	})

	markets, ctxs, err := client.MetaAndAssetCtxs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 1 || len(ctxs) != 1 {
		t.Fatalf("expected parallel arrays of 1, got %d/%d", len(markets), len(ctxs))
	}
	if ctxs[0].MarkPx.String() != "24.2" || !ctxs[0].MidPx.Valid {
		t.Errorf("unexpected ctx: %+v", ctxs[0])
	}
}

func TestUserFills(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["type"] != "userFills" || body["user"] != "0xabc" {
			t.Errorf("unexpected request body: %v", body)
		}
		_, _ = w.Write([]byte(`[{"coin":"HYPE","side":"B","px":"24.1","sz":"2","time":1717171717000,"hash":"0x1","oid":7,"fee":"0.012"}]`))
	})

	fills, err := client.UserFills(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 1 || fills[0].Coin != "HYPE" || !fills[0].Side.IsBuy() {
		t.Errorf("unexpected fills: %+v", fills)
	}
}

func TestUserFillsRequiresWallet(t *testing.T) {
	client := testClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})

	if _, err := client.UserFills(context.Background(), "  "); !errs.HasCode(err, errs.CodeInvalid) {
		t.Errorf("expected invalid_request, got %v", err)
	}
}

func TestClearinghouseStatePassthrough(t *testing.T) {
	payload := `{"marginSummary":{"accountValue":"1234.5"},"assetPositions":[]}`
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(payload))
	})

	raw, err := client.ClearinghouseState(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != payload {
		t.Errorf("expected opaque passthrough, got %s", raw)
	}
}

func TestVenueErrorMapped(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.Meta(context.Background())
	if !errs.HasCode(err, errs.CodeVenue) {
		t.Fatalf("expected venue_error, got %v", err)
	}
	var envelope *errs.E
	if !asEnvelope(err, &envelope) || envelope.HTTP != http.StatusBadGateway {
		t.Errorf("expected HTTP 502 recorded, got %v", err)
	}
}

func TestDecodeErrorMapped(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"universe": not-json`))
	})

	if _, err := client.Meta(context.Background()); !errs.HasCode(err, errs.CodeDecode) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func asEnvelope(err error, target **errs.E) bool {
	e, ok := err.(*errs.E)
	if ok {
		*target = e
	}
	return ok
}
