package repository

import (
	"context"
	"time"
)

// OrderStatus is the terminal outcome stored with each purchase order row.
type OrderStatus string

const (
	StatusCompleted OrderStatus = "completed"
	StatusFailed    OrderStatus = "failed"
)

// OrderRecord is one processed upload, successful or not.
type OrderRecord struct {
	ID           string      `json:"id"`
	UserID       string      `json:"-"`
	FileName     string      `json:"file_name"`
	FileSHA256   string      `json:"file_sha256"`
	Status       OrderStatus `json:"status"`
	PONumber     string      `json:"po_number,omitempty"`
	VendorName   string      `json:"vendor_name,omitempty"`
	TotalAmount  float64     `json:"total_amount"`
	LineItems    int         `json:"line_items"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Quota is a user's monthly allowance and what is left of it.
type Quota struct {
	MonthlyQuota     int `json:"monthly_quota"`
	RemainingCredits int `json:"remaining_credits"`
}

// Stats summarises a user's processing history for the dashboard.
type Stats struct {
	Total       int `json:"total"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	SuccessRate int `json:"success_rate"` // whole percent, 0 when Total is 0
}

// QuotaStore reads and writes per-user credit allowances.
// Implementations must honour the supplied context for cancellation and timeouts.
type QuotaStore interface {
	// RemainingCredits returns the credits left, or the default quota for
	// users without a row.
	RemainingCredits(ctx context.Context, userID string) (int, error)

	// Quota returns the full allowance row, defaulted like RemainingCredits.
	Quota(ctx context.Context, userID string) (Quota, error)

	// ConsumeCredit decrements remaining credits by one, never below zero.
	ConsumeCredit(ctx context.Context, userID string) error
}

// RecordStore persists extraction outcomes.
type RecordStore interface {
	// SaveOrder inserts a completed or failed record.
	SaveOrder(ctx context.Context, rec *OrderRecord) error

	// RecentOrders returns the newest records for a user, newest first.
	RecentOrders(ctx context.Context, userID string, limit int) ([]OrderRecord, error)

	// Stats aggregates all of a user's records.
	Stats(ctx context.Context, userID string) (Stats, error)
}
