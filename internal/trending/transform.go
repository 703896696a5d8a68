package trending

import (
	"fmt"
	"strings"

	"dex-trending/internal/domain"
	"dex-trending/internal/normalization"
)

// DefaultRowLimit is the upstream ranking window: at most this many raw rows
// are considered per scrape, before validation.
const DefaultRowLimit = 20

// RejectReason names why a raw row was dropped.
type RejectReason string

const (
	RejectMissingPairID        RejectReason = "missing_pair_id"
	RejectMissingName          RejectReason = "missing_name"
	RejectNonPositiveMarketCap RejectReason = "non_positive_market_cap"
	RejectMalformedRow         RejectReason = "malformed_row"
)

// Rejection is a dropped row and its cause.
type Rejection struct {
	Reason RejectReason
	Err    error // underlying fault for RejectMalformedRow
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("row rejected (%s): %v", r.Reason, r.Err)
	}
	return fmt.Sprintf("row rejected (%s)", r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// RowResult is the outcome of transforming one raw row. Exactly one of
// Token and Rejection is set.
type RowResult struct {
	Index     int // position in the source ranking
	Token     *domain.Token
	Rejection *Rejection
	Warnings  []*normalization.FieldParseWarning
}

// Retained reports whether the row produced a token.
func (r RowResult) Retained() bool {
	return r.Token != nil
}

// Batch is the outcome of transforming a scrape.
type Batch struct {
	Tokens  []domain.Token // retained tokens, source order
	Results []RowResult    // one per considered row
}

// Rejected returns the number of considered rows that were dropped.
func (b Batch) Rejected() int {
	return len(b.Results) - len(b.Tokens)
}

// PairIDFromHref returns the last path segment of a pair reference.
func PairIDFromHref(href string) string {
	if href == "" {
		return ""
	}
	return strings.TrimSpace(href[strings.LastIndex(href, "/")+1:])
}

// TransformRow validates and normalizes a single raw row. It has no side
// effects; field warnings are returned on the result for the caller to report.
func TransformRow(index int, raw domain.RawRow) RowResult {
	res := RowResult{Index: index}

	id := PairIDFromHref(raw.Href)
	if id == "" {
		res.Rejection = &Rejection{Reason: RejectMissingPairID}
		return res
	}

	magnitude := func(field, text string) float64 {
		v, warn := normalization.ParseMagnitude(text)
		if warn != nil {
			warn.Field = field
			res.Warnings = append(res.Warnings, warn)
		}
		return v
	}

	priceUSD := magnitude("priceUsd", raw.Price)
	volume := magnitude("volume24h", raw.Volume24h)
	marketCap := magnitude("marketCap", raw.MarketCap)

	// A malformed price change drops the row rather than defaulting to 0.
	change, warn := normalization.ParsePercent(raw.PriceChange24h)
	if warn != nil {
		warn.Field = "priceChange24h"
		res.Rejection = &Rejection{Reason: RejectMalformedRow, Err: warn}
		return res
	}

	switch {
	case raw.Name == "":
		res.Rejection = &Rejection{Reason: RejectMissingName}
		return res
	case marketCap <= 0:
		res.Rejection = &Rejection{Reason: RejectNonPositiveMarketCap}
		return res
	}

	res.Token = &domain.Token{
		ID:           id,
		TokenAddress: id,
		Name:         raw.Name,
		Symbol:       raw.Symbol,
		MarketCap:    marketCap,
		PriceUSD:     priceUSD,
		Volume:       domain.Volume{H24: volume},
		PriceChange:  domain.PriceChange{H24: change},
		PairAge:      raw.PairAge,
	}
	return res
}

// TransformRows transforms at most limit raw rows in source order.
// The cap applies before validation, so fewer than limit tokens may be
// retained even when more valid rows exist further down. limit <= 0 means
// no cap.
func TransformRows(rows []domain.RawRow, limit int) Batch {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	b := Batch{
		Tokens:  make([]domain.Token, 0, len(rows)),
		Results: make([]RowResult, 0, len(rows)),
	}
	for i, raw := range rows {
		res := TransformRow(i, raw)
		b.Results = append(b.Results, res)
		if res.Retained() {
			b.Tokens = append(b.Tokens, *res.Token)
		}
	}
	return b
}
