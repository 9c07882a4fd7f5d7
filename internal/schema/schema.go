// Package schema defines the canonical market-data types shared across Perpscope.
package schema

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side marks the aggressor direction of a trade or fill.
// The venue encodes buys as "B" and sells as "A".
type Side string

const (
	// SideBuy is the venue's buy-side marker.
	SideBuy Side = "B"
	// SideSell is the venue's sell-side marker.
	SideSell Side = "A"
)

// IsBuy reports whether the side is the buy side.
func (s Side) IsBuy() bool { return s == SideBuy }

// ParseSide normalises the venue's side markers and common aliases.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "B", "BUY", "BID":
		return SideBuy, true
	case "A", "S", "SELL", "ASK":
		return SideSell, true
	default:
		return "", false
	}
}

// Trade is one executed trade broadcast on the venue's trades channel.
type Trade struct {
	Coin string          `json:"coin"`
	Side Side            `json:"side"`
	Px   decimal.Decimal `json:"px"`
	Sz   decimal.Decimal `json:"sz"`
	Time int64           `json:"time"`
	Hash string          `json:"hash"`
	TID  int64           `json:"tid"`
}

// Fill is one executed trade leg belonging to a wallet, as returned by the
// venue's userFills endpoint.
type Fill struct {
	Coin string          `json:"coin"`
	Side Side            `json:"side"`
	Px   decimal.Decimal `json:"px"`
	Sz   decimal.Decimal `json:"sz"`
	Time int64           `json:"time"`
	Hash string          `json:"hash"`
	OID  int64           `json:"oid"`
	Fee  decimal.Decimal `json:"fee"`
}

// Market is one universe entry from the venue's meta endpoint.
type Market struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
	IsDelisted   bool   `json:"isDelisted"`
}

// AssetCtx carries the live per-asset context published alongside metadata.
// MidPx and Premium are null for markets without a resting book.
type AssetCtx struct {
	Funding      decimal.Decimal     `json:"funding"`
	OpenInterest decimal.Decimal     `json:"openInterest"`
	Premium      decimal.NullDecimal `json:"premium"`
	DayNtlVlm    decimal.Decimal     `json:"dayNtlVlm"`
	MarkPx       decimal.Decimal     `json:"markPx"`
	MidPx        decimal.NullDecimal `json:"midPx"`
	PrevDayPx    decimal.Decimal     `json:"prevDayPx"`
}

// BookLevel is one price level of an l2Book snapshot.
type BookLevel struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int             `json:"n"`
}

// Book is an l2Book snapshot; Levels[0] holds bids, Levels[1] asks.
type Book struct {
	Coin   string         `json:"coin"`
	Levels [2][]BookLevel `json:"levels"`
	Time   int64          `json:"time"`
}
