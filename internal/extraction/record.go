package extraction

import "context"

// Record is one invoice line item parsed from document text
type Record struct {
	Reference string  `json:"reference"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	PriceHT   float64 `json:"priceHT"`  // Net price, before tax
	PriceTTC  float64 `json:"priceTTC"` // Gross price, tax included
	TVA       int     `json:"tva"`      // Tax rate as an integer percentage
}

// Parser turns linearized document text into line item records
type Parser interface {
	// Name identifies the parser in requests and job records
	Name() string

	// ParseItems extracts records in text order. An empty result is not an error.
	ParseItems(ctx context.Context, text string) ([]Record, error)
}
