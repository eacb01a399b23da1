// Package archive copies raw files of completed uploads to Cloud Storage.
package archive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/googleapi"

	"github.com/mtiwari1/tradeflow/internal/intake"
)

// ObjectWriter opens a writer for an object that must not already exist.
type ObjectWriter interface {
	NewWriter(ctx context.Context, object string, contentType string) io.WriteCloser
}

// GCS archives files to a bucket. Objects are keyed by content hash, so
// archiving the same bytes twice is a no-op.
type GCS struct {
	bucket string
	w      ObjectWriter
	logger *slog.Logger
}

// bucketWriter adapts a bucket handle to ObjectWriter.
type bucketWriter struct {
	bucket *storage.BucketHandle
}

func (b bucketWriter) NewWriter(ctx context.Context, object string, contentType string) io.WriteCloser {
	w := b.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

// NewGCS archives into the named bucket using an existing client.
func NewGCS(client *storage.Client, bucket string, logger *slog.Logger) *GCS {
	return newGCS(bucket, bucketWriter{bucket: client.Bucket(bucket)}, logger)
}

func newGCS(bucket string, w ObjectWriter, logger *slog.Logger) *GCS {
	return &GCS{bucket: bucket, w: w, logger: logger}
}

// ObjectName returns where a file is stored for a user.
func ObjectName(userID string, f intake.FileRef) string {
	return path.Join("uploads", userID, f.SHA256+path.Ext(f.Name))
}

// Archive uploads f for userID and returns its gs:// URI.
func (g *GCS) Archive(ctx context.Context, userID string, f intake.FileRef) (string, error) {
	object := ObjectName(userID, f)
	uri := "gs://" + g.bucket + "/" + object

	src, err := os.Open(f.Path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", f.Name)
	}
	defer src.Close()

	w := g.w.NewWriter(ctx, object, f.MediaType)
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		if alreadyExists(err) {
			return uri, nil
		}
		return "", errors.Wrapf(err, "write %s", uri)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			g.logger.Debug("archive object exists", slog.String("object", uri))
			return uri, nil
		}
		return "", errors.Wrapf(err, "finalize %s", uri)
	}

	g.logger.Info("file archived",
		slog.String("user_id", userID),
		slog.String("object", uri),
		slog.Int64("size", f.Size),
	)
	return uri, nil
}

// alreadyExists reports the precondition failure GCS returns when the
// DoesNotExist condition does not hold.
func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
