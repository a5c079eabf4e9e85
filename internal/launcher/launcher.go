// Package launcher drives the runtime half of a packaged application image:
// it mounts the archive appended to the running executable onto a temporary
// directory, waits for the filesystem to come up, runs the bundled entry
// point against it and propagates the child's exit status.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dustin/go-humanize"
	"github.com/sagebind/appimagezip/internal/filesystem"
	"github.com/sagebind/appimagezip/internal/logging"
	"golang.org/x/sys/unix"
)

// Exit codes for the startup failure classes. They are a compatibility
// surface for supervising processes and stay stable once chosen.
const (
	ExitOpenError       = 130
	ExitMountpointError = 131
	ExitMountError      = 132
	ExitExecError       = 133
)

// Environment variables the child process may rely on to locate the packaged
// executable and its mounted tree. They are the only contract it is given.
const (
	envImage = "APPIMAGE"
	envDir   = "APPDIR"
)

const (
	fsName = "appimagezip"

	// entryPointName is the fixed program inside the mounted tree that is
	// run as the child process.
	entryPointName = "AppRun"

	unmountAttempts = 5
	unmountInterval = 100 * time.Millisecond
)

// Run mounts the archive inside imagePath and runs its entry point with the
// given arguments. It returns the process exit status: the child's own
// status on a completed run, or one of the Exit* codes when startup fails.
// Startup failures also print a one-line diagnostic to stderr.
func Run(imagePath string, args []string, rbuf *logging.RingBuffer) int {
	image, err := filepath.Abs(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot resolve %q: %v\n", imagePath, err)

		return ExitOpenError
	}

	fsys, err := filesystem.New(image, rbuf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read application image, binary could be corrupt: %v\n", err)

		return ExitOpenError
	}
	defer fsys.Close()

	mountDir, err := os.MkdirTemp("", "appimage-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot create mount point: %v\n", err)

		return ExitMountpointError
	}
	defer os.Remove(mountDir)

	conn, err := fuse.Mount(mountDir, fuse.ReadOnly(), fuse.FSName(fsName), fuse.Subtype(fsName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot mount %q: %v\n", mountDir, err)

		return ExitMountError
	}
	defer conn.Close()
	defer unmount(mountDir, rbuf)

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := fs.Serve(conn, fsys); err != nil {
			serveErr <- fmt.Errorf("fs serve error: %w", err)
		}
	}()

	select {
	case <-fsys.Ready().Done():
	case err := <-serveErr:
		if err == nil {
			err = errors.New("filesystem stopped before becoming ready")
		}
		fmt.Fprintf(os.Stderr, "cannot serve filesystem: %v\n", err)

		return ExitMountError
	}

	rbuf.Printf("mounted %s on %s (%d nodes)", image, mountDir, fsys.NodeCount())

	code, err := runChild(image, mountDir, args, rbuf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot run %s: %v\n", entryPointName, err)

		return ExitExecError
	}

	logMetrics(fsys, rbuf)

	return code
}

// runChild launches the entry point inside the mounted tree with inherited
// standard streams and blocks until it exits, forwarding interrupt and
// termination signals to it while it runs.
func runChild(image, mountDir string, args []string, rbuf *logging.RingBuffer) (int, error) {
	entry, err := probeEntryPoint(mountDir)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(entry, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = childEnv(os.Environ(), image, mountDir)

	rbuf.Printf("exec %s", shellescape.QuoteCommand(append([]string{entry}, args...)))

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %q: %w", entry, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case s := <-sig:
				_ = cmd.Process.Signal(s)
			case <-done:
				return
			}
		}
	}()

	code, err := exitStatus(cmd.Wait())
	if err != nil {
		return 0, err
	}
	rbuf.Printf("child exited with status %d", code)

	return code, nil
}

// probeEntryPoint verifies the fixed entry point exists inside the mounted
// tree and is executable for the current user.
func probeEntryPoint(mountDir string) (string, error) {
	entry := filepath.Join(mountDir, entryPointName)
	if err := unix.Access(entry, unix.X_OK); err != nil {
		return "", fmt.Errorf("entry point %q is not executable: %w", entry, err)
	}

	return entry, nil
}

// childEnv extends a base environment with the image path and mount point
// variables. The environment travels on the spawn call; the launcher's own
// environment is never mutated.
func childEnv(base []string, image, mountDir string) []string {
	env := make([]string, 0, len(base)+2)
	env = append(env, base...)
	env = append(env, envImage+"="+image, envDir+"="+mountDir)

	return env
}

// exitStatus translates a child wait result into the status to exit with:
// the child's own code, or 128 plus the signal number when the child was
// terminated by a signal.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}

		return exitErr.ExitCode(), nil
	}

	return 0, fmt.Errorf("failed to wait for child: %w", err)
}

// unmount releases the kernel mount, retrying briefly since the mount point
// can stay busy for a moment after the child exits.
func unmount(mountDir string, rbuf *logging.RingBuffer) {
	for attempt := 1; attempt <= unmountAttempts; attempt++ {
		err := fuse.Unmount(mountDir)
		if err == nil {
			return
		}

		rbuf.Printf("unmount attempt %d: %v", attempt, err)
		time.Sleep(unmountInterval)
	}
}

// logMetrics leaves a teardown summary of the mount session in the ring
// buffer.
func logMetrics(fsys *filesystem.FS, rbuf *logging.RingBuffer) {
	cache := fsys.CacheMetrics()

	rbuf.Printf("served %d lookups, %d dir lists, %d reads (%s, %d errors); %d node records cached",
		fsys.Metrics.TotalLookups.Load(),
		fsys.Metrics.TotalDirLists.Load(),
		fsys.Metrics.TotalReads.Load(),
		humanize.IBytes(uint64(fsys.Metrics.TotalReadBytes.Load())),
		fsys.Metrics.TotalReadErrors.Load(),
		cache.Insertions,
	)
}
