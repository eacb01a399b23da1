// Package recorder persists the terminal outcome of each upload.
package recorder

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
	"github.com/mtiwari1/tradeflow/internal/repository"
)

// Store is the slice of the repository the recorder writes to.
type Store interface {
	SaveOrder(ctx context.Context, rec *repository.OrderRecord) error
	ConsumeCredit(ctx context.Context, userID string) error
}

// Archiver keeps a copy of a completed upload's raw file.
type Archiver interface {
	Archive(ctx context.Context, userID string, f intake.FileRef) (string, error)
}

// Recorder implements pipeline.Recorder.
type Recorder struct {
	store    Store
	archiver Archiver // optional
	logger   *slog.Logger
}

var _ pipeline.Recorder = (*Recorder)(nil)

// New creates a recorder. archiver may be nil.
func New(store Store, archiver Archiver, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, archiver: archiver, logger: logger}
}

// Record writes the purchase order row and, for completed items, writes the
// credit debit back to the quota store and archives the raw file. Every step
// is attempted; failures are combined into the returned error.
func (r *Recorder) Record(ctx context.Context, owner string, item pipeline.UploadItem) error {
	rec := toRecord(owner, item)

	var errs error
	if err := r.store.SaveOrder(ctx, rec); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "save order"))
	}

	if item.State != pipeline.StateCompleted {
		r.logger.Error("processing failed for file",
			slog.String("user_id", owner),
			slog.String("item_id", item.ID),
			slog.String("file", item.File.Name),
			slog.String("error", item.Error),
		)
		return errs
	}

	if err := r.store.ConsumeCredit(ctx, owner); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "consume credit"))
	}

	if r.archiver != nil {
		uri, err := r.archiver.Archive(ctx, owner, item.File)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "archive"))
		} else {
			r.logger.Debug("raw file archived", slog.String("item_id", item.ID), slog.String("uri", uri))
		}
	}

	if errs == nil {
		r.logger.Info("file processing recorded",
			slog.String("user_id", owner),
			slog.String("item_id", item.ID),
			slog.String("po_number", rec.PONumber),
			slog.String("hash", rec.FileSHA256),
		)
	}
	return errs
}

func toRecord(owner string, item pipeline.UploadItem) *repository.OrderRecord {
	rec := &repository.OrderRecord{
		ID:         item.ID,
		UserID:     owner,
		FileName:   item.File.Name,
		FileSHA256: item.File.SHA256,
		Status:     repository.StatusFailed,
		CreatedAt:  item.UpdatedAt,
	}
	if item.State == pipeline.StateCompleted && item.Result != nil {
		rec.Status = repository.StatusCompleted
		rec.PONumber = item.Result.PONumber
		rec.VendorName = item.Result.VendorName
		rec.TotalAmount = item.Result.TotalAmount
		rec.LineItems = item.Result.LineItemCount
		return rec
	}
	rec.ErrorMessage = item.Error
	return rec
}
