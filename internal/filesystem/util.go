package filesystem

import (
	"errors"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"bazil.org/fuse"
	"github.com/klauspost/compress/zip"
)

// normalizeEntryPath canonicalizes a zip entry name into the relative,
// slash-separated form node records use: no leading or doubled slashes,
// no trailing slash, empty string for an entry naming the root.
func normalizeEntryPath(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// parentPath returns the parent component of a canonical path, which is
// empty for a top-level path.
func parentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}

	return p[:i]
}

// joinChildPath appends a child name to a canonical directory path.
func joinChildPath(dir, name string) string {
	if dir == "" {
		return name
	}

	return dir + "/" + name
}

// isDirEntry classifies an archive entry. Both the stored Unix mode and a
// trailing slash in the name count; zip producers disagree on which to set.
func isDirEntry(f *zip.File) bool {
	return f.Mode().IsDir() || strings.HasSuffix(f.Name, "/")
}

func direntType(rec NodeRecord) fuse.DirentType {
	if rec.IsDir {
		return fuse.DT_Dir
	}

	return fuse.DT_File
}

func toFuseErr(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fuse.ToErrno(syscall.ENOENT)

	case errors.Is(err, os.ErrPermission):
		return fuse.ToErrno(syscall.EACCES)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}

// statTimes extracts access, modification and change times from a stat
// result, falling back to the modification time alone when the platform
// specifics are unavailable.
func statTimes(fi os.FileInfo) (atime, mtime, ctime time.Time) {
	mtime = fi.ModTime()
	atime, ctime = mtime, mtime

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		atime = time.Unix(st.Atim.Unix())
		ctime = time.Unix(st.Ctim.Unix())
	}

	return atime, mtime, ctime
}

// statOwner extracts the owning user and group from a stat result, falling
// back to the current process credentials.
func statOwner(fi os.FileInfo) (uid, gid uint32) {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Uid, st.Gid
	}

	return uint32(os.Getuid()), uint32(os.Getgid())
}
