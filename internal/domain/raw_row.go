package domain

// RawRow is one table row as rendered upstream, before normalization.
// All fields are trimmed display strings; a missing cell is "".
type RawRow struct {
	Href           string // pair reference, e.g. "/solana/<pair address>"
	Name           string
	Symbol         string
	Price          string // e.g. "$0.001234"
	Volume24h      string // e.g. "$19.4K"
	PriceChange24h string // e.g. "-3.25%"
	MarketCap      string // e.g. "$52.0M"
	PairAge        string // e.g. "5h"
}
