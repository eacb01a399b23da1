package pipeline

import (
	"context"
	"log/slog"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

// spoolLimit bounds concurrent disk writes for one submission.
const spoolLimit = 4

// Ingest spools srcs into dir and submits the result to p. Files that fail
// to spool or are rejected at submission are removed from disk and come
// back as rejections.
func Ingest(ctx context.Context, p *Pipeline, dir string, srcs []intake.Source) ([]string, []Rejection, error) {
	refs, failures := intake.SpoolAll(ctx, dir, srcs, spoolLimit)

	var rejected []Rejection
	for _, f := range failures {
		rejected = append(rejected, Rejection{Name: f.Name, Reason: f.Err.Error(), Err: f.Err})
	}

	ids, refused, err := p.Submit(ctx, refs)
	if err != nil {
		for _, ref := range refs {
			discard(p.logger, ref)
		}
		return nil, nil, err
	}
	for _, r := range refused {
		discard(p.logger, r.File)
	}
	return ids, append(rejected, refused...), nil
}

func discard(logger *slog.Logger, ref intake.FileRef) {
	if err := intake.Discard(ref); err != nil {
		logger.Warn("discard spooled file",
			slog.String("file", ref.Name),
			slog.String("error", err.Error()),
		)
	}
}
