/*
appimage-runtime is the launcher placed at the head of every packaged
application image. When the image is executed, this program opens its own
file as a zip archive, mounts it read-only onto a temporary directory and
runs the bundled AppRun entry point against it, forwarding all command-line
arguments and propagating the child's exit status. The child finds the image
path in APPIMAGE and the mounted tree in APPDIR.

It is not meant to be invoked on its own; the appimagezip tool embeds it
into the images it produces.

Diagnostics accumulate in an in-memory ring buffer; set APPIMAGE_DEBUG=1 to
tee them to standard error as they happen. The following signals are
observed at runtime:
  - SIGTERM or SIGINT is forwarded to the running child
  - SIGUSR2 dumps the ring buffer and a stacktrace to standard error
*/
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sagebind/appimagezip/internal/launcher"
	"github.com/sagebind/appimagezip/internal/logging"
)

const (
	ringBufferSize   = 256
	stackTraceBuffer = 1 << 24
)

// Version is the program version (filled in from the Makefile).
var Version string

func main() {
	out := io.Discard
	if os.Getenv("APPIMAGE_DEBUG") != "" {
		out = os.Stderr
	}
	rbuf := logging.NewRingBuffer(ringBufferSize, out)
	rbuf.Printf("appimage-runtime %s", Version)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR2)
	go func() {
		for range sig {
			if err := rbuf.DumpTo(os.Stderr); err != nil {
				fmt.Fprintf(os.Stderr, "ring buffer dump error: %v\n", err)
			}
			buf := make([]byte, stackTraceBuffer)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot locate own executable: %v\n", err)
		os.Exit(launcher.ExitOpenError)
	}

	os.Exit(launcher.Run(exe, os.Args[1:], rbuf))
}
