package cli

import (
	"archive/zip"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/imagekit/internal/batch"
	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/dunamismax/imagekit/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// output is one completed item ready to be written.
type output struct {
	name   string
	source domain.SourceImage
	result domain.TransformResult
}

func (a *app) execute(cmd *cobra.Command, paths []string, opts domain.TransformOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	logger := a.logger()

	engine, err := pipeline.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	sources, readFailures := readSources(paths)
	for _, f := range readFailures {
		fmt.Fprintf(a.stderr, "skip %s: %v\n", f.Name, f.Err)
	}

	orch := batch.New(engine, batch.Config{
		Limits: a.limits(),
		Logger: logger,
		OnProgress: func(done, total int, item domain.BatchItem) {
			logger.Printf("[%d/%d] %s %s", done, total, item.Source.Name, item.Status)
		},
	})
	_, rejected := orch.AddItems(sources...)
	for _, r := range rejected {
		fmt.Fprintf(a.stderr, "skip %s: %v\n", r.Name, r.Err)
	}

	start := time.Now()
	summary := orch.RunAll(cmd.Context(), opts)
	elapsed := time.Since(start)

	outputs := collectOutputs(orch.Items(), opts.Kind)
	if err := writeOutputs(a.flags.outDir, outputs); err != nil {
		return err
	}
	if a.flags.zipPath != "" {
		if err := writeZip(a.flags.zipPath, outputs); err != nil {
			return err
		}
	}

	for _, item := range orch.Items() {
		if item.Status == domain.StatusError {
			fmt.Fprintf(a.stderr, "failed %s: %s\n", item.Source.Name, item.Error)
		}
	}
	a.printReport(opts.Kind, summary, outputs, len(readFailures)+len(rejected), elapsed)
	orch.ClearAll()

	if failed := summary.Failed + len(readFailures) + len(rejected); failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func readSources(paths []string) ([]domain.SourceImage, []batch.Rejection) {
	var (
		sources  []domain.SourceImage
		failures []batch.Rejection
	)
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			failures = append(failures, batch.Rejection{Index: i, Name: p, Err: err})
			continue
		}
		sources = append(sources, domain.SourceImage{
			Name:     filepath.Base(p),
			MimeType: detectMimeType(p, data),
			Data:     data,
		})
	}
	return sources, failures
}

// detectMimeType trusts the extension first and sniffs the bytes when it is unknown.
func detectMimeType(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if m := domain.NormalizeMimeType(byExt); domain.IsSupportedMimeType(m) {
			return m
		}
	}
	return domain.NormalizeMimeType(http.DetectContentType(data))
}

func collectOutputs(items []domain.BatchItem, kind domain.Operation) []output {
	var outputs []output
	for _, item := range items {
		if item.Status != domain.StatusCompleted || item.Result == nil {
			continue
		}
		outputs = append(outputs, output{
			name:   pipeline.OutputName(item.Source.Name, string(kind), item.Result.Format),
			source: item.Source,
			result: *item.Result,
		})
	}

	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.name
	}
	for i, name := range pipeline.UniqueNames(names) {
		outputs[i].name = name
	}
	return outputs
}

func writeOutputs(dir string, outputs []output) error {
	if len(outputs) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, o := range outputs {
		if err := os.WriteFile(filepath.Join(dir, o.name), o.result.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", o.name, err)
		}
	}
	return nil
}

func writeZip(path string, outputs []output) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create zip dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	if err := archiveOutputs(f, outputs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func archiveOutputs(w io.Writer, outputs []output) error {
	zw := zip.NewWriter(w)
	for _, o := range outputs {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     o.name,
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("zip %s: %w", o.name, err)
		}
		if _, err := entry.Write(o.result.Data); err != nil {
			return fmt.Errorf("zip %s: %w", o.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}

func (a *app) printReport(kind domain.Operation, summary batch.Summary, outputs []output, skipped int, elapsed time.Duration) {
	w := a.stdout
	fmt.Fprintf(w, "imagekit %s: %d completed, %d failed, %d skipped in %s\n",
		kind, summary.Completed, summary.Failed, summary.Skipped+skipped, elapsed.Round(time.Millisecond))
	for _, o := range outputs {
		fmt.Fprintf(w, "  %-32s %9s -> %-9s %4dx%-4d %6.1f%%\n",
			o.name,
			humanize.Bytes(uint64(o.source.Size())),
			humanize.Bytes(uint64(o.result.Size)),
			o.result.Width, o.result.Height,
			o.result.CompressionRatio,
		)
	}
	if len(outputs) > 0 {
		var in, out int
		for _, o := range outputs {
			in += o.source.Size()
			out += o.result.Size
		}
		fmt.Fprintf(w, "  Input size:  %s\n", humanize.Bytes(uint64(in)))
		fmt.Fprintf(w, "  Output size: %s\n", humanize.Bytes(uint64(out)))
		fmt.Fprintf(w, "  Saved:       %.1f%%\n", domain.CompressionRatio(in, out))

		dest := a.flags.outDir
		if a.flags.zipPath != "" {
			dest += ", " + a.flags.zipPath
		}
		fmt.Fprintf(w, "  Written to:  %s\n", dest)
	}
}
