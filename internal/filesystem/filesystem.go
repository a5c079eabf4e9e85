// Package filesystem implements the read-only FUSE filesystem serving the
// zip archive that is appended to the running executable.
package filesystem

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"bazil.org/fuse/fs"
	"github.com/jellydator/ttlcache/v3"
	"github.com/klauspost/compress/zip"
	"github.com/sagebind/appimagezip/internal/logging"
	"github.com/sagebind/appimagezip/internal/ready"
)

const (
	// rootInode addresses the synthetic archive root; entry i of the
	// archive is addressed by inode i+2.
	rootInode = 1

	// attrTTL is how long the kernel may cache attributes and entries.
	// The archive cannot change for the lifetime of the mount.
	attrTTL = time.Hour

	dirNlink     = 2
	fileNlink    = 1
	fallbackPerm = 0o777
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Metrics contains atomic counters tracking filesystem operation.
type Metrics struct {
	TotalLookups    atomic.Int64
	TotalDirLists   atomic.Int64
	TotalReads      atomic.Int64
	TotalReadBytes  atomic.Int64
	TotalReadErrors atomic.Int64
}

// FS is the archive filesystem. It owns the open executable file, the zip
// reader over it and the resolution caches; all of them live exactly as long
// as the mount session.
type FS struct {
	Metrics *Metrics

	file    *os.File
	info    os.FileInfo
	archive *zip.Reader

	// inodes memoizes resolved node records; items carry no TTL and are
	// never evicted, so a record stays valid until the process exits.
	inodes *ttlcache.Cache[uint64, NodeRecord]

	// paths and children are derived from the entry list once at open
	// time and immutable afterwards.
	paths    map[string]uint64
	children map[string][]uint64

	ready *ready.Flag
	rbuf  *logging.RingBuffer
}

// New opens path as a zip archive and returns a filesystem serving it.
// The zip structure is located from the end of the file, so any leading
// bytes (such as the launcher binary itself) are tolerated.
func New(path string, rbuf *logging.RingBuffer) (*FS, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: ring buffer", errMissingArgument)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}

	archive, err := zip.NewReader(file, info.Size())
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("failed to read archive in %q: %w", path, err)
	}

	paths, children := buildIndexes(archive)

	return &FS{
		Metrics:  &Metrics{},
		file:     file,
		info:     info,
		archive:  archive,
		inodes:   ttlcache.New[uint64, NodeRecord](),
		paths:    paths,
		children: children,
		ready:    ready.New(),
		rbuf:     rbuf,
	}, nil
}

// Close releases the archive file. The filesystem must not be used afterwards.
func (fsys *FS) Close() error {
	if err := fsys.file.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	return nil
}

// Ready returns the readiness latch; it fires once the serve loop has
// requested the root node and the mounted tree is safe to use.
func (fsys *FS) Ready() *ready.Flag {
	return fsys.ready
}

// CacheMetrics reports insertion and hit/miss counters of the inode cache.
func (fsys *FS) CacheMetrics() ttlcache.Metrics {
	return fsys.inodes.Metrics()
}

// Root returns the root directory node. The serve loop requests it exactly
// once at startup, before dispatching any kernel requests, which makes it
// the initialization hook that signals mount readiness.
func (fsys *FS) Root() (fs.Node, error) {
	rec, ok := fsys.resolveByInode(rootInode)
	if !ok {
		return nil, toFuseErr(os.ErrNotExist)
	}

	fsys.ready.Notify()

	return &dirNode{fsys: fsys, rec: rec}, nil
}

// GenerateInode must never be called: every node carries the inode assigned
// to it by the archive bijection.
func (fsys *FS) GenerateInode(parentInode uint64, name string) uint64 {
	panic(fmt.Sprintf("inode generation requested for %q (parent %d); inodes are fixed by the archive", name, parentInode))
}
