package main

const (
	helpTextUse = "appimagezip <app-dir>"

	helpTextShort = "packages a directory into a self-mounting executable image"

	helpTextLong = `appimagezip packages an application directory into a single executable
image: a launcher binary followed by a zip archive of the directory tree.
Running the produced file mounts the archive read-only over FUSE onto a
temporary directory and runs the bundled AppRun entry point against it,
with APPIMAGE and APPDIR in its environment pointing at the image file and
the mounted tree.

The directory should contain an executable AppRun at its top level; Unix
permission bits and modification times are preserved in the archive. The
produced file is marked executable and needs no installation step.`
)
