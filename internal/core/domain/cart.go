package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrphanPolicy decides what happens to cart lines whose book left the catalog.
type OrphanPolicy string

const (
	OrphanPurge  OrphanPolicy = "purge"
	OrphanRetain OrphanPolicy = "retain"
)

func (p OrphanPolicy) Valid() bool {
	return p == OrphanPurge || p == OrphanRetain
}

// CartHeader is the persisted cart record. Total is a cache of the sum of
// its lines and is never trusted without recomputation.
type CartHeader struct {
	UserID    string
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CartLine struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	BookID        string          `json:"bookId"`
	Quantity      int             `json:"quantity"`
	PriceSnapshot decimal.Decimal `json:"price"`
	CreatedAt     time.Time       `json:"dateCreated"`
	UpdatedAt     time.Time       `json:"dateUpdated"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.PriceSnapshot.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type CartItem struct {
	CartLine
	Book BookView `json:"book"`
}

type Cart struct {
	UserID    string          `json:"userId"`
	Items     []CartItem      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"dateCreated"`
	UpdatedAt time.Time       `json:"dateUpdated"`
}

// LinesTotal sums quantity times price snapshot over lines.
func LinesTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
