// Package venue implements the client for the venue's JSON-over-HTTP info
// endpoint. Every request is a POST to a single URL discriminated by a type
// field in the body.
package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/perpscope/perpscope/config"
	"github.com/perpscope/perpscope/errs"
	"github.com/perpscope/perpscope/internal/schema"
)

const component = "venue/info"

// Client talks to the venue's info endpoint.
type Client struct {
	infoURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient constructs a venue client from settings.
func NewClient(cfg config.VenueSettings) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = int(rps)
	}
	return &Client{
		infoURL: cfg.InfoURL,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type metaResponse struct {
	Universe []schema.Market `json:"universe"`
}

// Meta fetches the market universe for the venue namespace.
func (c *Client) Meta(ctx context.Context) ([]schema.Market, error) {
	var resp metaResponse
	if err := c.post(ctx, infoRequest{Type: "meta"}, &resp); err != nil {
		return nil, err
	}
	return resp.Universe, nil
}

// AllMids fetches the current mid price for every market.
func (c *Client) AllMids(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp map[string]decimal.Decimal
	if err := c.post(ctx, infoRequest{Type: "allMids"}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MetaAndAssetCtxs fetches the universe together with per-asset live context.
// The venue returns two parallel arrays matched by index.
func (c *Client) MetaAndAssetCtxs(ctx context.Context) ([]schema.Market, []schema.AssetCtx, error) {
	var raw [2]json.RawMessage
	if err := c.post(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return nil, nil, err
	}

	var meta metaResponse
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, nil, errs.New(component, errs.CodeDecode, errs.WithMessage("metaAndAssetCtxs universe"), errs.WithCause(err))
	}
	var ctxs []schema.AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, nil, errs.New(component, errs.CodeDecode, errs.WithMessage("metaAndAssetCtxs contexts"), errs.WithCause(err))
	}
	return meta.Universe, ctxs, nil
}

// UserFills fetches the raw fill history for a wallet address.
func (c *Client) UserFills(ctx context.Context, wallet string) ([]schema.Fill, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("wallet address required"))
	}
	var fills []schema.Fill
	if err := c.post(ctx, infoRequest{Type: "userFills", User: wallet}, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// ClearinghouseState fetches the wallet account snapshot as an opaque document.
func (c *Client) ClearinghouseState(ctx context.Context, wallet string) (json.RawMessage, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("wallet address required"))
	}
	var raw json.RawMessage
	if err := c.post(ctx, infoRequest{Type: "clearinghouseState", User: wallet}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) post(ctx context.Context, req infoRequest, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New(component, errs.CodeUnavailable, errs.WithMessage("rate limiter"), errs.WithCause(err))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("marshal request"), errs.WithCause(err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.infoURL, bytes.NewReader(body))
	if err != nil {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("build request"), errs.WithCause(err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errs.New(component, errs.CodeNetwork, errs.WithMessage(fmt.Sprintf("%s request", req.Type)), errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.New(component, errs.CodeNetwork, errs.WithMessage("read response"), errs.WithCause(err))
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New(component, errs.CodeVenue,
			errs.WithMessage(fmt.Sprintf("%s rejected", req.Type)),
			errs.WithHTTP(resp.StatusCode),
		)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return errs.New(component, errs.CodeDecode, errs.WithMessage(fmt.Sprintf("%s response", req.Type)), errs.WithCause(err))
	}
	return nil
}
