// Package api serves the dashboard's JSON HTTP surface.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/perpscope/perpscope/errs"
	"github.com/perpscope/perpscope/internal/feed"
	"github.com/perpscope/perpscope/internal/market"
	"github.com/perpscope/perpscope/internal/observability"
	"github.com/perpscope/perpscope/internal/pnl"
	"github.com/perpscope/perpscope/internal/schema"
	"github.com/perpscope/perpscope/internal/stream"
)

const (
	component         = "api"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	defaultFeedLimit  = 100
)

// FillSource fetches a wallet's raw fill history.
type FillSource interface {
	UserFills(ctx context.Context, wallet string) ([]schema.Fill, error)
}

// StreamStatus exposes the streaming session's health.
type StreamStatus interface {
	Status() stream.State
	Attempts() int
}

// Deps carries the collaborators the handlers read from.
type Deps struct {
	Registry *market.Registry
	Feed     *feed.Feed
	Fills    FillSource
	Stream   StreamStatus
}

// Server is the dashboard HTTP server.
type Server struct {
	deps Deps
	srv  *http.Server
}

// New constructs the server listening on addr.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/markets", s.handleMarkets)
	mux.HandleFunc("/api/feed", s.handleFeed)
	mux.HandleFunc("/api/mids", s.handleMids)
	mux.HandleFunc("/api/pnl", s.handlePnl)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	observability.Log().Info("api server listening", observability.F("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errs.New(component, errs.CodeUnavailable, errs.WithMessage("listen"), errs.WithCause(err))
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

type marketView struct {
	Name         string               `json:"name"`
	SzDecimals   int                  `json:"szDecimals"`
	MaxLeverage  int                  `json:"maxLeverage"`
	IsDelisted   bool                 `json:"isDelisted"`
	MarkPx       *decimal.Decimal     `json:"markPx,omitempty"`
	MidPx        *decimal.NullDecimal `json:"midPx,omitempty"`
	Funding      *decimal.Decimal     `json:"funding,omitempty"`
	OpenInterest *decimal.Decimal     `json:"openInterest,omitempty"`
	DayNtlVlm    *decimal.Decimal     `json:"dayNtlVlm,omitempty"`
	PrevDayPx    *decimal.Decimal     `json:"prevDayPx,omitempty"`
	LastPx       *decimal.Decimal     `json:"lastPx,omitempty"`
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}

	entries := s.deps.Registry.Snapshot()
	views := make([]marketView, 0, len(entries))
	for _, entry := range entries {
		view := marketView{
			Name:        entry.Market.Name,
			SzDecimals:  entry.Market.SzDecimals,
			MaxLeverage: entry.Market.MaxLeverage,
			IsDelisted:  entry.Market.IsDelisted,
		}
		if entry.HasCtx {
			ctx := entry.Ctx
			view.MarkPx = &ctx.MarkPx
			view.MidPx = &ctx.MidPx
			view.Funding = &ctx.Funding
			view.OpenInterest = &ctx.OpenInterest
			view.DayNtlVlm = &ctx.DayNtlVlm
			view.PrevDayPx = &ctx.PrevDayPx
		}
		if px, ok := s.deps.Feed.LastPrice(entry.Market.Name); ok {
			view.LastPx = &px
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type tradeView struct {
	Coin string          `json:"coin"`
	Side schema.Side     `json:"side"`
	Px   decimal.Decimal `json:"px"`
	Sz   decimal.Decimal `json:"sz"`
	Time int64           `json:"time"`
	TID  int64           `json:"tid"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}

	limit := defaultFeedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, errs.New(component, errs.CodeInvalid, errs.WithMessage("limit must be a positive integer")))
			return
		}
		limit = n
	}

	trades := s.deps.Feed.Recent(limit)
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{Coin: t.Coin, Side: t.Side, Px: t.Px, Sz: t.Sz, Time: t.Time, TID: t.TID})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleMids(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Feed.Prices())
}

type assetPnlView struct {
	Asset       string          `json:"asset"`
	RealizedPnl decimal.Decimal `json:"realizedPnl"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  int             `json:"tradeCount"`
}

type pnlView struct {
	Wallet           string          `json:"wallet"`
	TotalRealizedPnl decimal.Decimal `json:"totalRealizedPnl"`
	TotalVolume      decimal.Decimal `json:"totalVolume"`
	TotalTrades      int             `json:"totalTrades"`
	Assets           []assetPnlView  `json:"assets"`
}

func (s *Server) handlePnl(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}

	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		writeError(w, errs.New(component, errs.CodeInvalid, errs.WithMessage("wallet query parameter required")))
		return
	}

	fills, err := s.deps.Fills.UserFills(r.Context(), wallet)
	if err != nil {
		observability.Log().Error("user fills fetch failed",
			observability.F("wallet", wallet),
			observability.F("error", err),
		)
		writeError(w, err)
		return
	}

	portfolio := pnl.Compute(fills)
	view := pnlView{
		Wallet:           wallet,
		TotalRealizedPnl: portfolio.TotalRealizedPnl,
		TotalVolume:      portfolio.TotalVolume,
		TotalTrades:      portfolio.TotalTrades,
		Assets:           make([]assetPnlView, 0, len(portfolio.Assets)),
	}
	for _, a := range portfolio.Assets {
		view.Assets = append(view.Assets, assetPnlView{
			Asset:       a.Asset,
			RealizedPnl: a.RealizedPnl,
			Volume:      a.Volume,
			TradeCount:  a.TradeCount,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

type healthView struct {
	Status            string `json:"status"`
	Stream            string `json:"stream"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	Markets           int    `json:"markets"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	view := healthView{Status: "ok"}
	if s.deps.Stream != nil {
		view.Stream = s.deps.Stream.Status().String()
		view.ReconnectAttempts = s.deps.Stream.Attempts()
	}
	if s.deps.Registry != nil {
		view.Markets = s.deps.Registry.Len()
	}
	writeJSON(w, http.StatusOK, view)
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

type errorBody struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errs.CodeUnavailable
	switch {
	case errs.HasCode(err, errs.CodeInvalid):
		status, code = http.StatusBadRequest, errs.CodeInvalid
	case errs.HasCode(err, errs.CodeNotFound):
		status, code = http.StatusNotFound, errs.CodeNotFound
	case errs.HasCode(err, errs.CodeVenue), errs.HasCode(err, errs.CodeDecode):
		status, code = http.StatusBadGateway, errs.CodeVenue
	case errs.HasCode(err, errs.CodeNetwork), errs.HasCode(err, errs.CodeUnavailable):
		status, code = http.StatusServiceUnavailable, errs.CodeUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.Log().Error("encode response", observability.F("error", err))
	}
}
