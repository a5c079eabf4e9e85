package filesystem

import (
	"context"
	"os"
	"path"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node               = (*dirNode)(nil)
	_ fs.NodeStringLookuper = (*dirNode)(nil)
	_ fs.NodeOpener         = (*dirNode)(nil)
	_ fs.HandleReadDirAller = (*dirNode)(nil)
)

// dirNode is a directory in the mounted archive. It is a cheap view over a
// resolved node record; all shared state lives on the filesystem.
type dirNode struct {
	fsys *FS
	rec  NodeRecord
}

// newNode wraps a resolved record in the matching node type.
func newNode(fsys *FS, rec NodeRecord) fs.Node {
	if rec.IsDir {
		return &dirNode{fsys: fsys, rec: rec}
	}

	return &fileNode{fsys: fsys, rec: rec}
}

// Attr copies the record's precomputed attributes.
func (d *dirNode) Attr(_ context.Context, attr *fuse.Attr) error {
	*attr = d.rec.Attr

	return nil
}

// Lookup resolves a child of this directory by name.
func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	d.fsys.Metrics.TotalLookups.Add(1)

	rec, ok := d.fsys.resolveByPath(joinChildPath(d.rec.Path, name))
	if !ok {
		return nil, toFuseErr(os.ErrNotExist)
	}

	return newNode(d.fsys, rec), nil
}

// Open marks directory handles as cacheable; the listing cannot change for
// the lifetime of the mount.
func (d *dirNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	resp.Flags |= fuse.OpenKeepCache | fuse.OpenCacheDir

	return d, nil
}

// ReadDirAll produces the full listing in one shot: the node itself, its
// parent (the root points at itself) and every direct child in archive
// order. Continuation offsets are served by the transport from this listing.
func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	d.fsys.Metrics.TotalDirLists.Add(1)

	dirents := []fuse.Dirent{
		{Inode: d.rec.Attr.Inode, Type: fuse.DT_Dir, Name: "."},
	}

	if d.rec.Attr.Inode == rootInode {
		dirents = append(dirents, fuse.Dirent{Inode: rootInode, Type: fuse.DT_Dir, Name: ".."})
	} else if parent, ok := d.fsys.parentOf(d.rec.Path); ok {
		dirents = append(dirents, fuse.Dirent{Inode: parent.Attr.Inode, Type: fuse.DT_Dir, Name: ".."})
	}

	for rec := range d.fsys.childrenOf(d.rec.Path) {
		dirents = append(dirents, fuse.Dirent{
			Inode: rec.Attr.Inode,
			Type:  direntType(rec),
			Name:  path.Base(rec.Path),
		})
	}

	return dirents, nil
}
