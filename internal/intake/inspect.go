// Package intake spools submitted files to disk, inspects them, and decides
// whether they may enter the ingestion pipeline.
package intake

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnsupportedType is returned for files outside the accepted media types.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrTooLarge is returned for files over the size bound.
	ErrTooLarge = errors.New("file too large")
)

// Media types the product accepts out of the box.
const (
	MediaTypePDF   = "application/pdf"
	MediaTypeEmail = "message/rfc822"
	MediaTypeText  = "text/plain"
)

// DefaultMaxSize is the per-file bound applied when none is configured.
const DefaultMaxSize int64 = 10 << 20

var extMediaTypes = map[string]string{
	".pdf": MediaTypePDF,
	".eml": MediaTypeEmail,
	".txt": MediaTypeText,
}

// FileRef is an immutable handle to a spooled file.
type FileRef struct {
	Name      string `json:"name"` // as submitted by the user
	Path      string `json:"-"`
	Size      int64  `json:"size"`
	MediaType string `json:"media_type"`
	SHA256    string `json:"sha256,omitempty"`
}

// Inspect streams the file at path through SHA-256 and resolves its media
// type from the submitted name and the sniffed content.
func Inspect(path, name string) (FileRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileRef{}, errors.Wrap(err, "intake: open file")
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FileRef{}, errors.Wrap(err, "intake: read head")
	}
	sniffed := http.DetectContentType(head[:n])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return FileRef{}, errors.Wrap(err, "intake: seek")
	}

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return FileRef{}, errors.Wrap(err, "intake: hash")
	}

	return FileRef{
		Name:      name,
		Path:      path,
		Size:      size,
		MediaType: resolveMediaType(name, sniffed),
		SHA256:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// resolveMediaType trusts the extension unless the content clearly says
// otherwise. Emails have no magic bytes and sniff as plain text.
func resolveMediaType(name, sniffed string) string {
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		sniffed = mt
	}
	byExt, ok := extMediaTypes[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return sniffed
	}
	switch {
	case sniffed == byExt, sniffed == "application/octet-stream":
		return byExt
	case byExt == MediaTypeEmail && sniffed == MediaTypeText:
		return byExt
	case byExt == MediaTypeText && strings.HasPrefix(sniffed, "text/"):
		return byExt
	}
	return sniffed
}

// AcceptPolicy is the predicate a file must satisfy to enter the pipeline.
type AcceptPolicy struct {
	MaxSize    int64
	MediaTypes []string
}

// DefaultAcceptPolicy accepts PDFs, emails and plain text up to 10 MiB.
func DefaultAcceptPolicy() AcceptPolicy {
	return AcceptPolicy{
		MaxSize:    DefaultMaxSize,
		MediaTypes: []string{MediaTypePDF, MediaTypeEmail, MediaTypeText},
	}
}

// Check returns nil if ref is acceptable, or an error wrapping ErrTooLarge
// or ErrUnsupportedType.
func (p AcceptPolicy) Check(ref FileRef) error {
	if p.MaxSize > 0 && ref.Size > p.MaxSize {
		return errors.Wrapf(ErrTooLarge, "%s is %d bytes, limit is %d", ref.Name, ref.Size, p.MaxSize)
	}
	if !slices.Contains(p.MediaTypes, ref.MediaType) {
		return errors.Wrapf(ErrUnsupportedType, "%s has media type %q", ref.Name, ref.MediaType)
	}
	return nil
}
