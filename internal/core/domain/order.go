package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FailureReason string

const (
	ReasonEmptyCart         FailureReason = "empty_cart"
	ReasonBookNotFound      FailureReason = "book_not_found"
	ReasonInsufficientStock FailureReason = "insufficient_stock"
	ReasonConflict          FailureReason = "conflict"
)

const (
	MessageCartEmpty   = "Cart is empty"
	MessageOrderPlaced = "Order placed successfully"
	MessageInProgress  = "Checkout already in progress"
)

type OrderedItem struct {
	BookID   string          `json:"bookId"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// OrderResult is produced and consumed within a single checkout call.
type OrderResult struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	OrderID      string          `json:"orderId,omitempty"`
	OrderedItems []OrderedItem   `json:"orderedItems,omitempty"`
	Total        decimal.Decimal `json:"total"`
	Reason       FailureReason   `json:"reason,omitempty"`
	BookID       string          `json:"bookId,omitempty"`
}

func CheckoutFailure(reason FailureReason, bookID, message string) *OrderResult {
	return &OrderResult{
		Success: false,
		Message: message,
		Reason:  reason,
		BookID:  bookID,
	}
}

// OrderPlaced is announced to downstream consumers after a committed checkout.
type OrderPlaced struct {
	OrderID  string          `json:"orderId"`
	UserID   string          `json:"userId"`
	Items    []OrderedItem   `json:"items"`
	Total    decimal.Decimal `json:"total"`
	PlacedAt time.Time       `json:"placedAt"`
}

type CheckoutState string

const (
	CheckoutStarted      CheckoutState = "started"
	CheckoutVerifying    CheckoutState = "verifying"
	CheckoutDecrementing CheckoutState = "decrementing"
	CheckoutCommitted    CheckoutState = "committed"
	CheckoutAborted      CheckoutState = "aborted"
)

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutCommitted || s == CheckoutAborted
}
