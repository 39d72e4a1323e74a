package assets

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

// FSPrefix serves absolute paths inside the root: /@fs/<abs path>.
const FSPrefix = "/@fs/"

var loaders = map[string]api.Loader{
	".js":  api.LoaderJS,
	".mjs": api.LoaderJS,
	".jsx": api.LoaderJSX,
	".ts":  api.LoaderTS,
	".tsx": api.LoaderTSX,
	".css": api.LoaderCSS,
}

type cached struct {
	modTime time.Time
	size    int64
	result  *Result
}

// FileTransformer compiles project files with esbuild. Results are cached
// until the file's modification time or size changes.
type FileTransformer struct {
	root string

	mu    sync.Mutex
	cache map[string]cached
}

// NewFileTransformer creates a transformer for files under root.
func NewFileTransformer(root string) *FileTransformer {
	return &FileTransformer{
		root:  filepath.Clean(root),
		cache: make(map[string]cached),
	}
}

// Transform implements Transformer.
func (t *FileTransformer) Transform(_ context.Context, url string) (*Result, error) {
	file, ok := t.resolve(cleanURL(url))
	if !ok {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}

	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		if err == nil || stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
		}
		return nil, errors.New("H510").WithModule(file).Wrap(err)
	}

	t.mu.Lock()
	c, hit := t.cache[file]
	t.mu.Unlock()
	if hit && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.result, nil
	}

	source, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.New("H510").WithModule(file).Wrap(err)
	}
	res, err := transform(file, source)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.cache[file] = cached{modTime: info.ModTime(), size: info.Size(), result: res}
	t.mu.Unlock()
	return res, nil
}

// resolve maps a URL path to a file inside the root.
func (t *FileTransformer) resolve(urlPath string) (string, bool) {
	var file string
	if strings.HasPrefix(urlPath, FSPrefix) {
		file = filepath.Clean(filepath.FromSlash("/" + strings.TrimPrefix(urlPath, FSPrefix)))
	} else {
		file = filepath.Join(t.root, filepath.FromSlash(path.Clean("/"+urlPath)))
	}
	rel, err := filepath.Rel(t.root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return file, true
}

func transform(file string, source []byte) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(file))
	loader, ok := loaders[ext]
	if !ok {
		// Served as is.
		return &Result{Code: source, ETag: ETag(source), ContentType: ContentType(file)}, nil
	}

	opts := api.TransformOptions{
		Loader:     loader,
		Sourcefile: file,
		Sourcemap:  api.SourceMapInline,
		Target:     api.ES2020,
	}
	if loader != api.LoaderCSS {
		opts.Format = api.FormatESModule
	}

	out := api.Transform(string(source), opts)
	if len(out.Errors) > 0 {
		msg := out.Errors[0]
		detail := msg.Text
		if msg.Location != nil {
			detail = fmt.Sprintf("%s:%d:%d: %s", file, msg.Location.Line, msg.Location.Column, msg.Text)
		}
		return nil, errors.New("H510").WithModule(file).WithDetail(detail).Wrap(stderrors.New(msg.Text))
	}

	return &Result{
		Code:        out.Code,
		ETag:        ETag(out.Code),
		ContentType: ContentType(file),
	}, nil
}
