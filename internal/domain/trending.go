package domain

// TrendingResult is the ordered list of trending tokens for one chain.
// A result is assembled once per successful scrape and never mutated after
// it is stored; a refresh replaces it.
type TrendingResult struct {
	Chain     string  `json:"chain"`
	FetchedAt int64   `json:"fetchedAt"` // Unix timestamp in milliseconds
	Tokens    []Token `json:"tokens"`    // upstream ranking order
}
