package assets

import (
	"context"
	stderrors "errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrNotFound is returned when no asset exists for a URL.
var ErrNotFound = stderrors.New("asset not found")

// Result is a transformed asset.
type Result struct {
	Code        []byte
	ETag        string
	ContentType string
}

// Transformer transforms the asset behind a request URL.
type Transformer interface {
	Transform(ctx context.Context, url string) (*Result, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, url string) (*Result, error)

// Transform implements Transformer.
func (f TransformerFunc) Transform(ctx context.Context, url string) (*Result, error) {
	return f(ctx, url)
}

// Chain returns a Transformer trying each of ts in order.
func Chain(ts ...Transformer) Transformer {
	return TransformerFunc(func(ctx context.Context, url string) (*Result, error) {
		for _, t := range ts {
			if t == nil {
				continue
			}
			res, err := t.Transform(ctx, url)
			if stderrors.Is(err, ErrNotFound) {
				continue
			}
			return res, err
		}
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	})
}

// ETag returns a weak validation token for code.
func ETag(code []byte) string {
	return fmt.Sprintf(`W/"%x"`, xxhash.Sum64(code))
}

// ContentType returns the MIME type for a file name.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".js", ".mjs", ".ts", ".tsx", ".jsx":
		return "application/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// cleanURL strips the query and fragment from a request URL.
func cleanURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return url
}
