package filesystem

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

var (
	_ io.ReadCloser = (*entryReader)(nil)

	// errNonSeekableRewind occurs when an attempt is made to rewind a non-seekable entry.
	errNonSeekableRewind = errors.New("cannot rewind non-seekable entry")
)

// entryReader reads one archive entry with forward positioning. Stored
// entries are opened raw and seek natively; compressed entries advance by
// decoding into [io.Discard], since zip decompression is not seekable
// mid-stream. It is not safe for concurrent use; open one per request.
type entryReader struct {
	f   *zip.File
	r   io.Reader
	pos int64
}

// newEntryReader opens a [zip.File] and returns a new [entryReader].
// Close() must always be called after use is complete.
func newEntryReader(f *zip.File) (*entryReader, error) {
	var r io.Reader
	var err error

	if f.Method == zip.Store {
		r, err = f.OpenRaw()
	} else {
		r, err = f.Open()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %q: %w", f.Name, err)
	}

	return &entryReader{f: f, r: r}, nil
}

// Read reads from the current position, advancing it.
func (fr *entryReader) Read(p []byte) (int, error) {
	n, err := fr.r.Read(p)
	fr.pos += int64(n)

	return n, err //nolint:wrapcheck
}

// ForwardTo advances the reader to the specified offset. It returns the
// resulting position; [errNonSeekableRewind] is returned when a compressed
// entry would have to move backwards.
func (fr *entryReader) ForwardTo(offset int64) (int64, error) {
	if offset == fr.pos {
		return fr.pos, nil
	}

	if seeker, ok := fr.r.(io.Seeker); ok {
		n, err := seeker.Seek(offset, io.SeekStart)
		fr.pos = n
		if err != nil {
			return fr.pos, fmt.Errorf("failed to seek: %w", err)
		}

		return fr.pos, nil
	}

	if offset < fr.pos {
		return fr.pos, fmt.Errorf("%w (want %d, current %d)", errNonSeekableRewind, offset, fr.pos)
	}

	n, err := io.CopyN(io.Discard, fr.r, offset-fr.pos)
	fr.pos += n
	if err != nil && !errors.Is(err, io.EOF) {
		return fr.pos, fmt.Errorf("failed to discard: %w", err)
	}

	return fr.pos, nil
}

// Position is the current position within the decoded entry.
func (fr *entryReader) Position() int64 {
	return fr.pos
}

// Close releases the underlying reader. Raw stored entries hold no
// resources of their own and close as a no-op.
func (fr *entryReader) Close() error {
	if closer, ok := fr.r.(io.ReadCloser); ok {
		return closer.Close() //nolint:wrapcheck
	}

	return nil
}
