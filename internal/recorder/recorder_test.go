package recorder

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/tradeflow/internal/extract"
	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
	"github.com/mtiwari1/tradeflow/internal/repository"
)

type fakeStore struct {
	saved      []repository.OrderRecord
	consumed   []string
	saveErr    error
	consumeErr error
}

func (f *fakeStore) SaveOrder(ctx context.Context, rec *repository.OrderRecord) error {
	f.saved = append(f.saved, *rec)
	return f.saveErr
}

func (f *fakeStore) ConsumeCredit(ctx context.Context, userID string) error {
	f.consumed = append(f.consumed, userID)
	return f.consumeErr
}

type fakeArchiver struct {
	files []intake.FileRef
	err   error
}

func (f *fakeArchiver) Archive(ctx context.Context, userID string, file intake.FileRef) (string, error) {
	f.files = append(f.files, file)
	return "gs://bucket/" + file.Name, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completedItem() pipeline.UploadItem {
	return pipeline.UploadItem{
		ID:       "item-1",
		File:     intake.FileRef{Name: "po.pdf", SHA256: "abc123"},
		State:    pipeline.StateCompleted,
		Progress: 100,
		Result:   &extract.PurchaseOrder{PONumber: "PO-2024-007", VendorName: "Acme Corp", TotalAmount: 4200.5, LineItemCount: 3},
	}
}

func TestRecordCompleted(t *testing.T) {
	store := &fakeStore{}
	arch := &fakeArchiver{}
	r := New(store, arch, quietLogger())

	require.NoError(t, r.Record(context.Background(), "alice", completedItem()))

	require.Len(t, store.saved, 1)
	rec := store.saved[0]
	assert.Equal(t, "item-1", rec.ID)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, repository.StatusCompleted, rec.Status)
	assert.Equal(t, "PO-2024-007", rec.PONumber)
	assert.Equal(t, "Acme Corp", rec.VendorName)
	assert.Equal(t, 4200.5, rec.TotalAmount)
	assert.Equal(t, 3, rec.LineItems)
	assert.Equal(t, "abc123", rec.FileSHA256)
	assert.Empty(t, rec.ErrorMessage)

	assert.Equal(t, []string{"alice"}, store.consumed)
	require.Len(t, arch.files, 1)
	assert.Equal(t, "po.pdf", arch.files[0].Name)
}

func TestRecordFailedSkipsDebitAndArchive(t *testing.T) {
	store := &fakeStore{}
	arch := &fakeArchiver{}
	r := New(store, arch, quietLogger())

	item := pipeline.UploadItem{
		ID:    "item-2",
		File:  intake.FileRef{Name: "scan.pdf"},
		State: pipeline.StateFailed,
		Error: "document unreadable",
	}
	require.NoError(t, r.Record(context.Background(), "alice", item))

	require.Len(t, store.saved, 1)
	assert.Equal(t, repository.StatusFailed, store.saved[0].Status)
	assert.Equal(t, "document unreadable", store.saved[0].ErrorMessage)
	assert.Empty(t, store.consumed)
	assert.Empty(t, arch.files)
}

func TestRecordAttemptsEveryStep(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("db down"), consumeErr: errors.New("db still down")}
	arch := &fakeArchiver{err: errors.New("bucket missing")}
	r := New(store, arch, quietLogger())

	err := r.Record(context.Background(), "alice", completedItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save order")

	assert.Len(t, store.saved, 1)
	assert.Len(t, store.consumed, 1)
	assert.Len(t, arch.files, 1)
}

func TestRecordWithoutArchiver(t *testing.T) {
	store := &fakeStore{}
	r := New(store, nil, quietLogger())
	require.NoError(t, r.Record(context.Background(), "bob", completedItem()))
	assert.Equal(t, []string{"bob"}, store.consumed)
}
