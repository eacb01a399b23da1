package intake

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Spool streams src into dir under a fresh UUID name and inspects the
// result. The write goes to a temp file first and is renamed into place,
// so a partially written upload is never visible under its final name.
func Spool(dir, name string, src io.Reader) (FileRef, error) {
	// Keep the original extension for media type resolution.
	dest := filepath.Clean(filepath.Join(dir, uuid.New().String()+strings.ToLower(filepath.Ext(name))))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return FileRef{}, errors.Newf("intake: invalid destination %q", dest)
	}

	tmp, err := os.CreateTemp(dir, "upload-*.tmp")
	if err != nil {
		return FileRef{}, errors.Wrap(err, "intake: create temp file")
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if _, err := io.Copy(bw, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return FileRef{}, errors.Wrap(err, "intake: stream to disk")
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return FileRef{}, errors.Wrap(err, "intake: flush")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return FileRef{}, errors.Wrap(err, "intake: close temp file")
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return FileRef{}, errors.Wrap(err, "intake: rename")
	}

	ref, err := Inspect(dest, filepath.Base(name))
	if err != nil {
		os.Remove(dest)
		return FileRef{}, err
	}
	return ref, nil
}

// Discard removes a spooled file. Missing files are not an error.
func Discard(ref FileRef) error {
	if ref.Path == "" {
		return nil
	}
	if err := os.Remove(ref.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "intake: discard")
	}
	return nil
}
