package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/kebairia/borgreport/internal/format"
	"github.com/kebairia/borgreport/internal/report"
)

// ZstdExt marks file destinations that are written zstd-compressed.
const ZstdExt = ".zst"

// Stream writes the rendered report to W (usually stdout).
type Stream struct {
	Label     string
	W         io.Writer
	Formatter format.Formatter
}

func (s Stream) Name() string { return s.Label }

func (s Stream) Deliver(_ context.Context, r *report.Report) error {
	doc, err := format.Render(s.Formatter, r)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(s.W, doc); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrDelivery, s.Label, err)
	}
	return nil
}

// File replaces Path with the rendered report. The content is written to a
// temporary file in the same directory and renamed into place, so readers
// never observe a partial report.
type File struct {
	Path      string
	Formatter format.Formatter
}

func (f File) Name() string { return f.Path }

func (f File) Deliver(ctx context.Context, r *report.Report) error {
	doc, err := format.Render(f.Formatter, r)
	if err != nil {
		return err
	}
	if err := writeAtomic(ctx, f.Path, []byte(doc)); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

func writeAtomic(ctx context.Context, path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file in %q: %w", dir, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if strings.HasSuffix(path, ZstdExt) {
		if err := compressZstd(tmp, data); err != nil {
			return err
		}
	} else if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %q: %w", tmp.Name(), err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %q: %w", tmp.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %q: %w", path, err)
	}
	return nil
}

// compressZstd writes data to w as a single zstd frame.
func compressZstd(w io.Writer, data []byte) error {
	writer, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create Zstandard writer: %w", err)
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		writer.Close()
		return fmt.Errorf("failed to compress report: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish Zstandard stream: %w", err)
	}
	return nil
}
