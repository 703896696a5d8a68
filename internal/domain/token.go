package domain

// Volume holds traded volume in USD per window. Only the 24h window is scraped.
type Volume struct {
	H24 float64 `json:"h24"`
}

// PriceChange holds price change in percent per window. May be negative.
type PriceChange struct {
	H24 float64 `json:"h24"`
}

// Token represents one trending pair as ranked upstream.
type Token struct {
	ID           string      `json:"id"`           // pair address, unique upstream
	TokenAddress string      `json:"tokenAddress"` // same as ID
	Name         string      `json:"name"`         // base token name
	Symbol       string      `json:"symbol"`       // base token symbol
	MarketCap    float64     `json:"marketCap"`    // USD, > 0 for retained tokens
	PriceUSD     float64     `json:"priceUsd"`     // USD
	Volume       Volume      `json:"volume"`
	PriceChange  PriceChange `json:"priceChange"`
	PairAge      string      `json:"pairAge"` // upstream formatted, e.g. "3h"
}
