// Package builder packages an application directory into a single
// self-mounting executable image: the runtime binary bytes followed by a zip
// archive of the directory tree.
package builder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

var (
	_ io.WriterTo = (*Builder)(nil)

	errMissingArgument = errors.New("missing argument")
	errNotDirectory    = errors.New("not a directory")
)

// Builder writes application images from one source directory. Entries keep
// their Unix permission bits and modification times; directories are stored
// with a trailing slash so any consumer can classify them.
type Builder struct {
	appDir   string
	runtime  []byte
	progress io.Writer
}

// New validates the source directory and returns a Builder that prefixes
// images with the given runtime bytes. Per-file progress lines go to
// progress; pass nil to silence them.
func New(appDir string, runtime []byte, progress io.Writer) (*Builder, error) {
	if appDir == "" {
		return nil, fmt.Errorf("%w: application directory", errMissingArgument)
	}
	if len(runtime) == 0 {
		return nil, fmt.Errorf("%w: runtime binary", errMissingArgument)
	}
	if progress == nil {
		progress = io.Discard
	}

	info, err := os.Stat(appDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", appDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", errNotDirectory, appDir)
	}

	return &Builder{
		appDir:   appDir,
		runtime:  runtime,
		progress: progress,
	}, nil
}

// WriteTo writes the complete image: the runtime bytes first, then the
// archive, with internal zip offsets accounting for the prefix. It returns
// the total number of bytes written.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.runtime)
	written := int64(n)
	if err != nil {
		return written, fmt.Errorf("failed to write runtime: %w", err)
	}

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	zw.SetOffset(written)

	if err := b.addTree(zw); err != nil {
		zw.Close()

		return written + cw.n, err
	}

	if err := zw.Close(); err != nil {
		return written + cw.n, fmt.Errorf("failed to finish archive: %w", err)
	}

	return written + cw.n, nil
}

// WriteFile writes the image to path and marks it executable.
func (b *Builder) WriteFile(path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %q: %w", path, err)
	}
	defer f.Close()

	written, err := b.WriteTo(f)
	if err != nil {
		return written, err
	}

	info, err := f.Stat()
	if err != nil {
		return written, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	if err := f.Chmod(info.Mode() | 0o111); err != nil {
		return written, fmt.Errorf("failed to chmod %q: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return written, fmt.Errorf("failed to close %q: %w", path, err)
	}

	return written, nil
}

// addTree walks the source directory depth-first and adds one entry per
// node, skipping anything that cannot be represented in the archive.
func (b *Builder) addTree(zw *zip.Writer) error {
	return filepath.WalkDir(b.appDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %q: %w", path, err)
		}
		if path == b.appDir {
			return nil
		}

		rel, err := filepath.Rel(b.appDir, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %q: %w", path, err)
		}
		name := filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			return b.addDir(zw, path, name)

		case d.Type()&os.ModeSymlink != 0:
			return b.addSymlink(zw, path, name)

		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("failed to stat %q: %w", path, err)
			}

			return b.addFile(zw, path, name, info)

		default:
			fmt.Fprintf(b.progress, "skip: %s\n", path)

			return nil
		}
	})
}

func (b *Builder) addDir(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", path, err)
	}

	header := &zip.FileHeader{
		Name:     name + "/",
		Modified: info.ModTime(),
	}
	header.SetMode(info.Mode())

	if _, err := zw.CreateHeader(header); err != nil {
		return fmt.Errorf("failed to create entry %q: %w", header.Name, err)
	}

	fmt.Fprintf(b.progress, "copy: %s\n", path)

	return nil
}

func (b *Builder) addFile(zw *zip.Writer, path, name string, info os.FileInfo) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	header.SetMode(info.Mode())

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create entry %q: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy %q: %w", path, err)
	}

	fmt.Fprintf(b.progress, "copy: %s\n", path)

	return nil
}

// addSymlink dereferences a symlink to a regular file into a plain entry
// holding the target's content. Links to directories and broken links are
// skipped; the archive stores no link targets.
func (b *Builder) addSymlink(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(b.progress, "skip: %s (broken link)\n", path)

		return nil
	}
	if info.IsDir() {
		fmt.Fprintf(b.progress, "skip: %s (directory link)\n", path)

		return nil
	}

	return b.addFile(zw, path, name, info)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)

	return n, err //nolint:wrapcheck
}
