package filesystem

import (
	"iter"
	"os"

	"bazil.org/fuse"
	"github.com/jellydator/ttlcache/v3"
	"github.com/klauspost/compress/zip"
)

// NodeRecord is the resolved view of one inode: its canonical relative path
// (empty for the root), its kind and a fully populated attribute record.
type NodeRecord struct {
	Path  string
	IsDir bool
	Attr  fuse.Attr
}

// buildIndexes derives the namespace from the flat entry list in one pass:
// a canonical path to inode index and a parent path to child inodes index.
// The archive stores no parent/child links, so directory membership exists
// only through these derived relations. The first entry claiming a path wins;
// later duplicates stay resolvable by inode but are not addressable by path.
func buildIndexes(archive *zip.Reader) (map[string]uint64, map[string][]uint64) {
	paths := make(map[string]uint64, len(archive.File))
	children := make(map[string][]uint64)

	for i, f := range archive.File {
		p := normalizeEntryPath(f.Name)
		if p == "" {
			continue // degenerate entry naming the root itself
		}
		if _, taken := paths[p]; taken {
			continue
		}

		ino := uint64(i) + 2
		paths[p] = ino

		parent := parentPath(p)
		children[parent] = append(children[parent], ino)
	}

	return paths, children
}

// NodeCount reports the size of the inode space: one node per archive entry,
// plus the synthetic root. Valid inodes are exactly [1, NodeCount].
func (fsys *FS) NodeCount() uint64 {
	return uint64(len(fsys.archive.File)) + 1
}

// resolveByInode returns the node record for ino, synthesizing and caching
// it on first access. It reports false only for inodes outside the valid
// range; an in-range inode always resolves.
func (fsys *FS) resolveByInode(ino uint64) (NodeRecord, bool) {
	if ino < rootInode || ino > fsys.NodeCount() {
		return NodeRecord{}, false
	}

	if item := fsys.inodes.Get(ino); item != nil {
		return item.Value(), true
	}

	var rec NodeRecord
	if ino == rootInode {
		rec = fsys.rootRecord()
	} else {
		rec = fsys.entryRecord(ino, fsys.archive.File[ino-2])
	}

	fsys.inodes.Set(ino, rec, ttlcache.NoTTL)

	return rec, true
}

// resolveByPath returns the node record for a canonical relative path.
// The root is not addressable by path; it has no parent to be looked up from.
func (fsys *FS) resolveByPath(p string) (NodeRecord, bool) {
	ino, ok := fsys.paths[p]
	if !ok {
		return NodeRecord{}, false
	}

	return fsys.resolveByInode(ino)
}

// childrenOf yields the direct children of the directory at p, in archive
// order. A node belongs to p iff its parent path component equals p; the
// root's children are the entries with no parent component at all. The
// sequence is finite and restartable.
func (fsys *FS) childrenOf(p string) iter.Seq[NodeRecord] {
	return func(yield func(NodeRecord) bool) {
		for _, ino := range fsys.children[p] {
			rec, ok := fsys.resolveByInode(ino)
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// parentOf resolves the node owning the parent path component of p;
// for a direct child of the root, that is the root record itself.
func (fsys *FS) parentOf(p string) (NodeRecord, bool) {
	if p == "" {
		return NodeRecord{}, false
	}

	if parent := parentPath(p); parent != "" {
		return fsys.resolveByPath(parent)
	}

	return fsys.resolveByInode(rootInode)
}

// rootRecord synthesizes the root directory from the metadata of the
// executable file itself.
func (fsys *FS) rootRecord() NodeRecord {
	atime, mtime, ctime := statTimes(fsys.info)
	uid, gid := statOwner(fsys.info)

	return NodeRecord{
		Path:  "",
		IsDir: true,
		Attr: fuse.Attr{
			Valid:  attrTTL,
			Inode:  rootInode,
			Atime:  atime,
			Mtime:  mtime,
			Ctime:  ctime,
			Crtime: ctime,
			Mode:   os.ModeDir | fsys.info.Mode().Perm(),
			Nlink:  dirNlink,
			Uid:    uid,
			Gid:    gid,
		},
	}
}

// entryRecord synthesizes the record for one archive entry. Directories are
// recognized by the stored Unix mode bit or a trailing slash in the entry
// name; producers are inconsistent about which of the two they encode.
func (fsys *FS) entryRecord(ino uint64, f *zip.File) NodeRecord {
	isDir := isDirEntry(f)
	uid, gid := statOwner(fsys.info)

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = fallbackPerm
	}

	attr := fuse.Attr{
		Valid:  attrTTL,
		Inode:  ino,
		Atime:  f.Modified,
		Mtime:  f.Modified,
		Ctime:  f.Modified,
		Crtime: f.Modified,
		Mode:   perm,
		Nlink:  fileNlink,
		Uid:    uid,
		Gid:    gid,
	}

	if isDir {
		attr.Mode = os.ModeDir | perm
		attr.Nlink = dirNlink
	} else {
		attr.Size = f.UncompressedSize64
		attr.Blocks = (attr.Size + 511) / 512
	}

	return NodeRecord{
		Path:  normalizeEntryPath(f.Name),
		IsDir: isDir,
		Attr:  attr,
	}
}
