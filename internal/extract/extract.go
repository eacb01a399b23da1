// Package extract derives structured purchase-order fields from raw files.
//
// The pipeline treats extraction as a single opaque call per file: it waits
// for exactly one outcome and performs no retries of its own.
package extract

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

// ErrUnreadable marks files the extractor could not make sense of.
var ErrUnreadable = errors.New("file could not be read as a purchase order")

// PurchaseOrder is the immutable result of a successful extraction.
type PurchaseOrder struct {
	PONumber      string  `json:"po_number"`
	VendorName    string  `json:"vendor_name"`
	TotalAmount   float64 `json:"total_amount"`
	LineItemCount int     `json:"line_items"`
}

// Extractor is the extraction service collaborator.
type Extractor interface {
	Extract(ctx context.Context, file intake.FileRef) (PurchaseOrder, error)
}

// Func adapts a plain function to Extractor.
type Func func(ctx context.Context, file intake.FileRef) (PurchaseOrder, error)

// Extract calls f.
func (f Func) Extract(ctx context.Context, file intake.FileRef) (PurchaseOrder, error) {
	return f(ctx, file)
}

func (o PurchaseOrder) validate() error {
	if o.PONumber == "" {
		return errors.Wrap(ErrUnreadable, "no PO number found")
	}
	if o.TotalAmount < 0 {
		return errors.Wrapf(ErrUnreadable, "negative total %v", o.TotalAmount)
	}
	return nil
}
