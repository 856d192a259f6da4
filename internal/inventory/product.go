package inventory

import "time"

// Product is a stock item owned by one user
type Product struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"userId"`
	Name         string    `json:"name"`
	Reference    string    `json:"reference,omitempty"`
	PriceHT      float64   `json:"priceHT"`
	PriceTTC     float64   `json:"priceTTC"`
	TVA          int       `json:"tva"`
	CurrentStock int       `json:"currentStock"`
	LastJobID    string    `json:"lastJobId,omitempty"` // Extraction job of the latest import
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
