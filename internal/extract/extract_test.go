package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

func spool(t *testing.T, name, body string) intake.FileRef {
	t.Helper()
	ref, err := intake.Spool(t.TempDir(), name, strings.NewReader(body))
	require.NoError(t, err)
	return ref
}

func TestSimulatedIsDeterministic(t *testing.T) {
	ref := spool(t, "order.txt", "Please ship the attached order.\n")
	s := Simulated{}

	first, err := s.Extract(context.Background(), ref)
	require.NoError(t, err)
	second, err := s.Extract(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first.PONumber, "PO-2024-"))
	assert.Len(t, first.PONumber, len("PO-2024-000"))
	assert.Contains(t, simulatedVendors, first.VendorName)
	assert.GreaterOrEqual(t, first.TotalAmount, 5000.0)
	assert.Less(t, first.TotalAmount, 105000.0)
	assert.GreaterOrEqual(t, first.LineItemCount, 1)
	assert.LessOrEqual(t, first.LineItemCount, 10)
}

func TestSimulatedReadsTextFields(t *testing.T) {
	body := strings.Join([]string{
		"From: alice@example.com",
		"Subject: New order",
		"PO Number: PO-7781",
		"Vendor: Acme Fasteners",
		"Total: ₹1,24,500",
		"- 200 x M6 bolts",
		"- 200 x M6 nuts",
		"- 10 x washers",
	}, "\n")
	ref := spool(t, "order.eml", body)

	order, err := Simulated{}.Extract(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, PurchaseOrder{
		PONumber:      "PO-7781",
		VendorName:    "Acme Fasteners",
		TotalAmount:   124500,
		LineItemCount: 3,
	}, order)
}

func TestSimulatedIgnoresSender(t *testing.T) {
	ref := spool(t, "forwarded.eml", "From: alice@example.com\nSubject: PO attached\nPO Number: PO-9\n")

	order, err := Simulated{}.Extract(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "PO-9", order.PONumber)
	assert.Contains(t, simulatedVendors, order.VendorName)
}

func TestSimulatedFailures(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"empty file", "empty.txt", ""},
		{"not really a pdf", "po.pdf", "%PDF-1.4 truncated garbage"},
		{"bad total", "po.txt", "PO: 1\nTotal: lots\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := spool(t, tt.file, tt.body)
			_, err := Simulated{}.Extract(context.Background(), ref)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnreadable), "got %v", err)
		})
	}
}

func TestSimulatedHonoursContext(t *testing.T) {
	ref := spool(t, "order.txt", "hello")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Simulated{Latency: time.Minute}.Extract(ctx, ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseVertexResponse(t *testing.T) {
	respWith := func(parts ...genai.Part) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		}
	}

	order, err := parseVertexResponse(respWith(genai.Text(`{"po_number":"PO-1","vendor_name":"Office Supplies Co","total_amount":1234.5,"line_items":4}`)))
	require.NoError(t, err)
	assert.Equal(t, PurchaseOrder{PONumber: "PO-1", VendorName: "Office Supplies Co", TotalAmount: 1234.5, LineItemCount: 4}, order)

	for name, resp := range map[string]*genai.GenerateContentResponse{
		"nil":          nil,
		"no text":      respWith(),
		"invalid json": respWith(genai.Text("not json")),
		"no po number": respWith(genai.Text(`{"vendor_name":"x"}`)),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseVertexResponse(resp)
			assert.True(t, errors.Is(err, ErrUnreadable), "got %v", err)
		})
	}
}
