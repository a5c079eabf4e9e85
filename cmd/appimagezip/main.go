/*
appimagezip packages a directory tree into a single self-mounting executable
image. The produced file is the appimage-runtime launcher binary with a zip
archive of the application directory appended; running it mounts the archive
read-only over FUSE and executes the bundled AppRun entry point.

Usage:

	appimagezip [flags] <app-dir>

The runtime binary is embedded into this tool at build time; --runtime
substitutes one from disk and -D writes the embedded one to standard output.
*/
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/sagebind/appimagezip/assets"
	"github.com/sagebind/appimagezip/internal/builder"
	"github.com/spf13/cobra"
)

// Version is the program version (filled in from the Makefile).
var Version string

type programOpts struct {
	appDir      string
	output      string
	runtimePath string
	dumpRuntime bool
}

func rootCmd() *cobra.Command {
	var argOutput string
	var argRuntime string
	var argDump bool

	cmd := &cobra.Command{
		Use:     helpTextUse,
		Short:   helpTextShort,
		Long:    helpTextLong,
		Version: Version,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := programOpts{
				output:      argOutput,
				runtimePath: argRuntime,
				dumpRuntime: argDump,
			}
			if len(args) > 0 {
				opts.appDir = args[0]
			}

			if !opts.dumpRuntime && opts.appDir == "" {
				return cmd.Help() //nolint:wrapcheck
			}

			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&argOutput, "output", "o", "Out.AppImage", "Path of the image to write")
	cmd.Flags().StringVar(&argRuntime, "runtime", "", "Prefix images with the runtime binary at this path instead of the embedded one")
	cmd.Flags().BoolVarP(&argDump, "dump-runtime", "D", false, "Write the embedded runtime binary to standard output and exit")

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts programOpts) error {
	rt, err := loadRuntime(opts.runtimePath)
	if err != nil {
		return err
	}

	if opts.dumpRuntime {
		if _, err := os.Stdout.Write(rt); err != nil {
			return fmt.Errorf("failed to dump runtime: %w", err)
		}

		return nil
	}

	b, err := builder.New(opts.appDir, rt, os.Stdout)
	if err != nil {
		return err //nolint:wrapcheck
	}

	written, err := b.WriteFile(opts.output)
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", opts.output, err)
	}

	fmt.Printf("wrote %s (%s)\n", opts.output, humanize.IBytes(uint64(written)))

	return nil
}

// loadRuntime returns the launcher bytes for the head of the image: the
// embedded binary, or the contents of an override path.
func loadRuntime(path string) ([]byte, error) {
	if path == "" {
		return assets.Runtime() //nolint:wrapcheck
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime %q: %w", path, err)
	}

	return data, nil
}
