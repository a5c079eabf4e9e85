// Package assets provides the embedded assets for the appimagezip program.
package assets

import (
	_ "embed"
	"errors"
)

// errNoRuntime occurs when the embedded runtime placeholder was never
// replaced with a built binary.
var errNoRuntime = errors.New(`no runtime binary embedded (build it with "make runtime")`)

// runtimeBinary holds the prebuilt appimage-runtime launcher. The Makefile
// places it in bin/ before the packaging tool itself is compiled; the file
// tracked in version control is an empty placeholder.
//
//go:embed bin/appimage-runtime
var runtimeBinary []byte

// Runtime returns the launcher binary written to the head of every produced
// image. It fails when the running tool was built without one.
func Runtime() ([]byte, error) {
	if len(runtimeBinary) == 0 {
		return nil, errNoRuntime
	}

	return runtimeBinary, nil
}
