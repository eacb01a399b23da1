package extract

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

var simulatedVendors = []string{"Tech Solutions Ltd", "Office Supplies Co", "Manufacturing Inc"}

// Simulated stands in for the AI extraction service. Results are derived
// from the file's content hash, so the same file always yields the same
// order. Text and email files that spell out their fields are honoured.
type Simulated struct {
	// Latency delays every call, to mimic a remote service.
	Latency time.Duration
}

// Extract implements Extractor.
func (s Simulated) Extract(ctx context.Context, file intake.FileRef) (PurchaseOrder, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return PurchaseOrder{}, errors.Wrap(ctx.Err(), "simulated extraction")
		}
	}

	if file.Size == 0 {
		return PurchaseOrder{}, errors.Wrapf(ErrUnreadable, "%s is empty", file.Name)
	}

	if file.MediaType == intake.MediaTypePDF {
		pages, err := api.PageCountFile(file.Path)
		if err != nil {
			return PurchaseOrder{}, errors.Mark(errors.Wrapf(err, "%s: invalid PDF", file.Name), ErrUnreadable)
		}
		if pages == 0 {
			return PurchaseOrder{}, errors.Wrapf(ErrUnreadable, "%s has no pages", file.Name)
		}
	}

	order := fromDigest(digest(file))

	if file.MediaType == intake.MediaTypeText || file.MediaType == intake.MediaTypeEmail {
		if err := overlayTextFields(file.Path, &order); err != nil {
			return PurchaseOrder{}, err
		}
	}

	if err := order.validate(); err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

func digest(file intake.FileRef) []byte {
	if b, err := hex.DecodeString(file.SHA256); err == nil && len(b) >= 8 {
		return b
	}
	sum := sha256.Sum256([]byte(file.Name))
	return sum[:]
}

// fromDigest spreads the digest over the ranges the product's mock data uses.
func fromDigest(d []byte) PurchaseOrder {
	n := binary.BigEndian.Uint64(d[:8])
	return PurchaseOrder{
		PONumber:      fmt.Sprintf("PO-2024-%03d", n%1000),
		VendorName:    simulatedVendors[(n>>10)%uint64(len(simulatedVendors))],
		TotalAmount:   float64(5000 + (n>>20)%100000),
		LineItemCount: int(1 + (n>>40)%10),
	}
}

// overlayTextFields replaces generated fields with any "Key: value" lines
// found in the file. Lines starting with "- " count as line items.
func overlayTextFields(path string, order *PurchaseOrder) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "simulated extraction: open")
	}
	defer f.Close()

	items := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "- ") {
			items++
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "po number", "po", "purchase order":
			order.PONumber = value
		case "vendor", "vendor name":
			order.VendorName = value
		case "total", "total amount":
			amount, err := strconv.ParseFloat(strings.NewReplacer(",", "", "₹", "", "$", "").Replace(value), 64)
			if err != nil {
				return errors.Mark(errors.Wrapf(err, "unparseable total %q", value), ErrUnreadable)
			}
			order.TotalAmount = amount
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "simulated extraction: scan")
	}
	if items > 0 {
		order.LineItemCount = items
	}
	return nil
}
