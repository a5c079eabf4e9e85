package filesystem

import (
	"os"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// Expectation: Attr should copy the resolved record's attributes verbatim.
func Test_fileNode_Attr_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("hello")},
	})

	rec, ok := fsys.resolveByPath("a.txt")
	require.True(t, ok)

	node := newNode(fsys, rec)
	fn, ok := node.(*fileNode)
	require.True(t, ok)

	var attr fuse.Attr
	err := fn.Attr(t.Context(), &attr)
	require.NoError(t, err)
	require.Equal(t, rec.Attr, attr)
	require.Equal(t, uint64(5), attr.Size)
	require.Equal(t, uint64(1), attr.Blocks)
	require.False(t, attr.Mode.IsDir())
}

// Expectation: Open should hand back the node itself as the handle and mark
// it cacheable for the kernel.
func Test_fileNode_Open_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("hello")},
	})

	rec, ok := fsys.resolveByPath("a.txt")
	require.True(t, ok)
	fn := &fileNode{fsys: fsys, rec: rec}

	resp := &fuse.OpenResponse{}
	handle, err := fn.Open(t.Context(), &fuse.OpenRequest{}, resp)
	require.NoError(t, err)
	require.Same(t, fn, handle)
	require.NotZero(t, resp.Flags&fuse.OpenKeepCache)
}

// Expectation: Read should serve the requested byte range and account for
// the bytes served.
func Test_fileNode_Read_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("hello world")},
	})

	rec, ok := fsys.resolveByPath("a.txt")
	require.True(t, ok)
	fn := &fileNode{fsys: fsys, rec: rec}

	resp := &fuse.ReadResponse{}
	err := fn.Read(t.Context(), &fuse.ReadRequest{Offset: 0, Size: 11}, resp)
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), resp.Data)

	resp = &fuse.ReadResponse{}
	err = fn.Read(t.Context(), &fuse.ReadRequest{Offset: 6, Size: 5}, resp)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), resp.Data)

	require.Equal(t, int64(2), fsys.Metrics.TotalReads.Load())
	require.Equal(t, int64(16), fsys.Metrics.TotalReadBytes.Load())
	require.Zero(t, fsys.Metrics.TotalReadErrors.Load())
}

// Expectation: Read of a compressed entry should serve mid-entry ranges by
// decoding and discarding the prefix.
func Test_fileNode_Read_Deflate_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "c.txt", ModTime: time.Now(), Method: zip.Deflate, Content: []byte("abcdefghij")},
	})

	rec, ok := fsys.resolveByPath("c.txt")
	require.True(t, ok)
	fn := &fileNode{fsys: fsys, rec: rec}

	resp := &fuse.ReadResponse{}
	err := fn.Read(t.Context(), &fuse.ReadRequest{Offset: 4, Size: 3}, resp)
	require.NoError(t, err)
	require.Equal(t, []byte("efg"), resp.Data)
}

// Expectation: A failing read should count as an error, leave a trace in the
// ring buffer and surface as EIO.
func Test_fileNode_Read_Error(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "short.txt", ModTime: time.Now(), Content: []byte("hello")},
	})

	rec, ok := fsys.resolveByPath("short.txt")
	require.True(t, ok)
	rec.Attr.Size += 10 // lie about the size so decoding runs dry

	fn := &fileNode{fsys: fsys, rec: rec}

	resp := &fuse.ReadResponse{}
	err := fn.Read(t.Context(), &fuse.ReadRequest{Offset: 0, Size: 15}, resp)
	require.Equal(t, fuse.ToErrno(syscall.EIO), err)

	require.Equal(t, int64(1), fsys.Metrics.TotalReadErrors.Load())
	require.Zero(t, fsys.Metrics.TotalReadBytes.Load())

	lines := fsys.rbuf.Lines()
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], `error read("short.txt", 0, 15)`)
}

// Expectation: readRange should clamp a range overrunning the entry to the
// entry's end.
func Test_FS_readRange_Clamped_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("hello")},
	})

	rec, ok := fsys.resolveByPath("a.txt")
	require.True(t, ok)

	data, err := fsys.readRange(rec, 2, 4096)
	require.NoError(t, err)
	require.Equal(t, []byte("llo"), data)
}

// Expectation: readRange at or past the end of the entry should yield no
// bytes and no error.
func Test_FS_readRange_AtOrPastEnd_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "a.txt", ModTime: time.Now(), Content: []byte("hello")},
	})

	rec, ok := fsys.resolveByPath("a.txt")
	require.True(t, ok)

	data, err := fsys.readRange(rec, 5, 10)
	require.NoError(t, err)
	require.NotNil(t, data)
	require.Empty(t, data)

	data, err = fsys.readRange(rec, 9000, 10)
	require.NoError(t, err)
	require.Empty(t, data)
}

// Expectation: readRange on an empty entry should yield no bytes for any
// offset.
func Test_FS_readRange_EmptyEntry_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "empty.txt", ModTime: time.Now()},
	})

	rec, ok := fsys.resolveByPath("empty.txt")
	require.True(t, ok)

	data, err := fsys.readRange(rec, 0, 4096)
	require.NoError(t, err)
	require.Empty(t, data)
}

// Expectation: readRange on a directory record should report ENOENT through
// the error mapping.
func Test_FS_readRange_Directory_Error(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "dir/", ModTime: time.Now()},
	})

	rec, ok := fsys.resolveByPath("dir")
	require.True(t, ok)

	data, err := fsys.readRange(rec, 0, 10)
	require.Nil(t, data)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, fuse.ToErrno(syscall.ENOENT), toFuseErr(err))
}

// Expectation: readRange should decode disjoint ranges of the same entry
// independently; each request opens its own decoder.
func Test_FS_readRange_IndependentRequests_Success(t *testing.T) {
	t.Parallel()

	fsys := testFS(t, []testEntry{
		{Path: "c.txt", ModTime: time.Now(), Method: zip.Deflate, Content: []byte("abcdefghij")},
	})

	rec, ok := fsys.resolveByPath("c.txt")
	require.True(t, ok)

	tail, err := fsys.readRange(rec, 8, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("ij"), tail)

	head, err := fsys.readRange(rec, 0, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("ab"), head)
}
