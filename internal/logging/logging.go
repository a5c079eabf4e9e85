// Package logging implements the handling of runtime diagnostics.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// RingBuffer keeps the most recent diagnostic lines in a fixed-size ring,
// teeing every line to an output stream. A transparent launcher points the
// stream at [io.Discard] so the child's stderr stays clean, while the ring
// remains available for on-demand dumping.
type RingBuffer struct {
	mu    sync.Mutex
	out   io.Writer
	buf   []string
	index int
	full  bool
	size  int
}

// NewRingBuffer returns a pointer to a new [RingBuffer] of the given size,
// teeing all lines to out.
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	return &RingBuffer{
		out:  out,
		buf:  make([]string, size),
		size: size,
	}
}

// Size returns the capacity of the ring.
func (b *RingBuffer) Size() int {
	return b.size
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.index)
		copy(out, b.buf[:b.index])

		return out
	}
	out := make([]string, b.size)
	copy(out, b.buf[b.index:])
	copy(out[b.size-b.index:], b.buf[:b.index])

	return out
}

// DumpTo writes all buffered lines to w, oldest first.
func (b *RingBuffer) DumpTo(w io.Writer) error {
	for _, line := range b.Lines() {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("dumping ring buffer: %w", err)
		}
	}

	return nil
}

// Printf formats a message, adds it to the ring and prints it to the stream.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.emit(fmt.Sprintf(format, args...))
}

// Println assembles a message, adds it to the ring and prints it to the stream.
func (b *RingBuffer) Println(args ...any) {
	b.emit(fmt.Sprintln(args...))
}

func (b *RingBuffer) emit(msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s %s", timestamp, strings.TrimRight(msg, "\n"))

	b.add(line)
	fmt.Fprintln(b.out, line)
}

func (b *RingBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.index] = line
	b.index = (b.index + 1) % b.size
	if b.index == 0 {
		b.full = true
	}
}
