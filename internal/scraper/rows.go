package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dex-trending/internal/domain"
)

// CSS selectors of the DexScreener screener table.
const (
	RowSelector            = "a.ds-dex-table-row"
	nameSelector           = ".ds-dex-table-row-base-token-name-text"
	symbolSelector         = ".ds-dex-table-row-base-token-symbol"
	priceSelector          = ".ds-dex-table-row-col-price"
	volumeSelector         = ".ds-dex-table-row-col-volume"
	priceChange24hSelector = ".ds-dex-table-row-col-price-change-h24"
	marketCapSelector      = ".ds-dex-table-row-col-market-cap"
	pairAgeSelector        = ".ds-dex-table-row-col-pair-age"
)

// ParseRows extracts every screener row from a rendered page, in document
// order. Missing cells yield empty strings.
func ParseRows(html string) ([]domain.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows []domain.RawRow
	doc.Find(RowSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		rows = append(rows, domain.RawRow{
			Href:           strings.TrimSpace(href),
			Name:           cellText(s, nameSelector),
			Symbol:         cellText(s, symbolSelector),
			Price:          cellText(s, priceSelector),
			Volume24h:      cellText(s, volumeSelector),
			PriceChange24h: cellText(s, priceChange24hSelector),
			MarketCap:      cellText(s, marketCapSelector),
			PairAge:        cellText(s, pairAgeSelector),
		})
	})
	return rows, nil
}

// cellText returns the whitespace-collapsed text of the first match.
func cellText(row *goquery.Selection, selector string) string {
	cell := row.Find(selector).First()
	if cell.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(cell.Text()), " ")
}
