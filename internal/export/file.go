// Package export saves a finished recording somewhere the user can get at it
// without the recordings store: a local directory or an S3 bucket.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const maxNameAttempts = 1000

// FileExporter writes payloads into Dir. Existing files are never overwritten;
// a numbered suffix is added instead, like a browser download.
type FileExporter struct {
	Dir    string
	Logger *zap.Logger
}

func NewFileExporter(dir string, logger *zap.Logger) *FileExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileExporter{Dir: dir, Logger: logger.With(zap.String("component", "export_file"))}
}

// Export writes payload and returns the absolute path of the new file.
func (e *FileExporter) Export(ctx context.Context, name, mimeType string, payload io.Reader, size int64) (string, error) {
	if err := os.MkdirAll(e.Dir, 0750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	f, path, err := e.create(SafeName(name))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, readerWithContext(ctx, payload))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if size > 0 && n != size {
		e.Logger.Warn("export size mismatch", zap.String("path", path), zap.Int64("want", size), zap.Int64("got", n))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	e.Logger.Info("recording saved", zap.String("path", abs), zap.Int64("size_bytes", n), zap.String("mime_type", mimeType))
	return abs, nil
}

func (e *FileExporter) create(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(e.Dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s in %s", name, e.Dir)
}

// SafeName strips directories and characters that are unsafe in file names.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.FromSlash(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "recording.bin"
	}
	return name
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
