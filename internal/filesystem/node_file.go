package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node         = (*fileNode)(nil)
	_ fs.NodeOpener   = (*fileNode)(nil)
	_ fs.HandleReader = (*fileNode)(nil)
)

// fileNode is a regular file in the mounted archive.
type fileNode struct {
	fsys *FS
	rec  NodeRecord
}

// Attr copies the record's precomputed attributes.
func (fn *fileNode) Attr(_ context.Context, attr *fuse.Attr) error {
	*attr = fn.rec.Attr

	return nil
}

// Open marks file handles as cacheable; entry contents cannot change for
// the lifetime of the mount.
func (fn *fileNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	resp.Flags |= fuse.OpenKeepCache

	return fn, nil
}

// Read serves one byte range of the entry.
func (fn *fileNode) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fsys := fn.fsys
	fsys.Metrics.TotalReads.Add(1)

	data, err := fsys.readRange(fn.rec, req.Offset, req.Size)
	if err != nil {
		fsys.Metrics.TotalReadErrors.Add(1)
		fsys.rbuf.Printf("error read(%q, %d, %d): %v", fn.rec.Path, req.Offset, req.Size, err)

		return toFuseErr(err)
	}

	fsys.Metrics.TotalReadBytes.Add(int64(len(data)))
	resp.Data = data

	return nil
}

// readRange decodes the slice [offset, offset+size) of the entry backing
// rec, clamped to the entry's total size. Compressed entries cannot seek
// mid-stream, so the prefix up to the requested range is decoded and
// discarded; stored entries seek directly. Reading at or past the end of
// the entry yields no bytes and no error.
func (fsys *FS) readRange(rec NodeRecord, offset int64, size int) ([]byte, error) {
	if rec.IsDir {
		return nil, fmt.Errorf("reading %q: %w", rec.Path, os.ErrNotExist)
	}

	length := int64(rec.Attr.Size)
	if offset >= length {
		return []byte{}, nil
	}

	end := offset + int64(size)
	if end > length {
		end = length
	}

	fr, err := fsys.openEntry(rec)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	if _, err := fr.ForwardTo(offset); err != nil {
		return nil, err
	}

	buf := make([]byte, end-offset)
	if _, err := io.ReadFull(fr, buf); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", rec.Path, err)
	}

	return buf, nil
}

// openEntry opens the archive entry addressed by the record's inode.
func (fsys *FS) openEntry(rec NodeRecord) (*entryReader, error) {
	return newEntryReader(fsys.archive.File[rec.Attr.Inode-2])
}
