package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryPhysics     Category = "physics"
	CategoryChemistry   Category = "chemistry"
	CategoryBiology     Category = "biology"
	CategoryMathematics Category = "mathematics"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPhysics, CategoryChemistry, CategoryBiology, CategoryMathematics:
		return true
	}
	return false
}

// CatalogItem is a book's metadata joined with its stock/price record.
type CatalogItem struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Author        string          `json:"author"`
	Category      Category        `json:"category"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	ISBN          string          `json:"isbn"`
	Publisher     string          `json:"publisher"`
	PublishedYear int             `json:"publishedYear"`
	Stock         int             `json:"stock"`
	Price         decimal.Decimal `json:"price"`
	Version       int             `json:"-"` // bumped on every stock write
	CreatedAt     time.Time       `json:"dateCreated"`
	UpdatedAt     time.Time       `json:"dateUpdated"`
}

// View returns the display projection used by cart reads.
func (c CatalogItem) View() BookView {
	return BookView{
		Title:    c.Title,
		Author:   c.Author,
		ImageURL: c.ImageURL,
	}
}

type BookView struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// StockChange is one conditional decrement: stock goes from Expected to
// Expected-Quantity, or the write fails with ErrConflict.
type StockChange struct {
	BookID   string
	Expected int
	Quantity int
}
