// Package ready implements a one-shot readiness broadcast.
package ready

import "sync"

// Flag is a single-fire latch shared between the goroutine serving the
// filesystem and any goroutines that depend on the mount being live.
// The zero value is ready for use.
type Flag struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.Mutex
}

// New returns a pointer to a new [Flag].
func New() *Flag {
	return &Flag{ch: make(chan struct{})}
}

func (f *Flag) done() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ch == nil {
		f.ch = make(chan struct{})
	}

	return f.ch
}

// Notify releases all current and future waiters.
// Calling it more than once has no further effect.
func (f *Flag) Notify() {
	f.once.Do(func() {
		close(f.done())
	})
}

// Wait blocks until [Flag.Notify] has been called at least once,
// no matter from where or when. It returns immediately if the
// notification already happened.
func (f *Flag) Wait() {
	<-f.done()
}

// Done exposes the latch as a channel that is closed on notification,
// for use in select statements.
func (f *Flag) Done() <-chan struct{} {
	return f.done()
}
