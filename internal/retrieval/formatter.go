package retrieval

import (
	"math"

	"github.com/google/uuid"

	"github.com/cwf-platform/shop-assistant/internal/catalog"
)

// Status labels, a pure function of stock state.
const (
	StatusInStock    = "In Stock"
	StatusOutOfStock = "Out of Stock"
)

// ProductView is the numeric-safe presentation form of a catalog row.
type ProductView struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Policy      string    `json:"policy"`
	Price       float64   `json:"price"`
	StockLevel  int       `json:"stockLevel"`
	InStock     bool      `json:"inStock"`
	StatusLabel string    `json:"statusLabel"`
	Similarity  *float64  `json:"similarity"` // rounded to 4 decimals; nil when not computed
	Unit        string    `json:"unit"`
	ImageURL    string    `json:"imageUrl"`
}

// FormatProducts projects ranked catalog rows into product views. Pure: no
// I/O, never fails for a well-formed row, and identical inputs yield
// identical outputs. Order is preserved.
func FormatProducts(rows []catalog.SimilarEntry) []ProductView {
	views := make([]ProductView, 0, len(rows))
	for _, row := range rows {
		views = append(views, formatProduct(row))
	}
	return views
}

func formatProduct(row catalog.SimilarEntry) ProductView {
	price := row.UnitPrice
	if price < 0 || math.IsNaN(price) {
		price = 0
	}

	stock := row.StockQuantity
	if stock < 0 {
		stock = 0
	}

	inStock := stock > 0
	label := StatusOutOfStock
	if inStock {
		label = StatusInStock
	}

	var similarity *float64
	if row.Similarity != nil {
		rounded := roundTo4(*row.Similarity)
		similarity = &rounded
	}

	return ProductView{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Policy:      row.Policy,
		Price:       price,
		StockLevel:  stock,
		InStock:     inStock,
		StatusLabel: label,
		Similarity:  similarity,
		Unit:        row.Unit,
		ImageURL:    row.ImageURL,
	}
}

func roundTo4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
