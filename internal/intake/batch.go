package intake

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Source is one file of a multi-file submission, opened on demand.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Failure is a source that never made it to disk.
type Failure struct {
	Name string
	Err  error
}

// SpoolAll spools srcs into dir with at most limit copies in flight. The
// returned refs keep the order of srcs; failed sources are left out of refs
// and reported instead.
func SpoolAll(ctx context.Context, dir string, srcs []Source, limit int) ([]FileRef, []Failure) {
	refs := make([]FileRef, len(srcs))
	errs := make([]error, len(srcs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, src := range srcs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			rc, err := src.Open()
			if err != nil {
				errs[i] = errors.Wrap(err, "intake: open upload")
				return nil
			}
			defer rc.Close()
			refs[i], errs[i] = Spool(dir, src.Name, rc)
			return nil
		})
	}
	_ = g.Wait() // workers record errors per source

	var ok []FileRef
	var failed []Failure
	for i, src := range srcs {
		if errs[i] != nil {
			failed = append(failed, Failure{Name: src.Name, Err: errs[i]})
			continue
		}
		ok = append(ok, refs[i])
	}
	return ok, failed
}
