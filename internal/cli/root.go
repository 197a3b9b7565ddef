// Package cli implements the imagekit command: local batch transforms over files
// with outputs written to a directory or a zip archive.
package cli

import (
	"fmt"
	"io"
	"log"
	"runtime"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

type globalFlags struct {
	outDir      string
	zipPath     string
	verbose     bool
	maxFileSize int64
}

type app struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree. Output and diagnostics go to the given writers.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "imagekit",
		Short: "Batch image compression, conversion and editing",
		Long: `imagekit runs one transform over a batch of images: adaptive compression,
format conversion, resize, crop, text or image watermarks and rotation.

Each file is processed independently. A corrupt or unsupported file is reported
and skipped without stopping the rest of the batch.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(fmt.Sprintf(
		"imagekit %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.outDir, "out", "o", "./imagekit-out", "output directory")
	pf.StringVar(&a.flags.zipPath, "zip", "", "also write every output into this zip archive")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "verbose output")
	pf.Int64Var(&a.flags.maxFileSize, "max-file-size", domain.DefaultMaxFileBytes, "per-file size limit in bytes")

	root.AddCommand(
		a.compressCommand(),
		a.convertCommand(),
		a.resizeCommand(),
		a.cropCommand(),
		a.watermarkCommand(),
		a.rotateCommand(),
		a.runCommand(),
	)
	return root
}

func (a *app) logger() *log.Logger {
	if !a.flags.verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(a.stderr, "[imagekit] ", log.LstdFlags|log.Lmsgprefix)
}

func (a *app) limits() domain.Limits {
	limits := domain.DefaultLimits()
	if a.flags.maxFileSize > 0 {
		limits.MaxFileBytes = a.flags.maxFileSize
	}
	return limits
}
