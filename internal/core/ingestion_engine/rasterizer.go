package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
)

const (
	baseDPI = 72
	minDPI  = 36
	maxDPI  = 600
)

var _ core.Rasterizer = (*PDFRasterizer)(nil)

// CommandRunner runs an external program; tests substitute it.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{ logger *slog.Logger }

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Warn("exec failed", "cmd", name, "args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(), "error", err, "stderr", truncate(errb.String(), 4<<10))
	} else {
		r.logger.Debug("exec ok", "cmd", name, "duration_ms", time.Since(start).Milliseconds(), "stdout_bytes", out.Len())
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// PDFRasterizer renders pages to PNG with poppler's pdftoppm. Pages it cannot render
// fall back to the largest image embedded in the page, read with pdfcpu.
type PDFRasterizer struct {
	pdftoppm string
	runner   CommandRunner
	timeout  time.Duration
	logger   *slog.Logger
}

func NewPDFRasterizer(pdftoppm string, timeout time.Duration, log *slog.Logger) *PDFRasterizer {
	log = logger.OrDefault(log).With("component", "rasterizer")
	if pdftoppm == "" {
		pdftoppm = "pdftoppm"
	}
	return &PDFRasterizer{pdftoppm: pdftoppm, runner: execRunner{logger: log}, timeout: timeout, logger: log}
}

// WithRunner replaces the command runner.
func (r *PDFRasterizer) WithRunner(run CommandRunner) *PDFRasterizer {
	cp := *r
	cp.runner = run
	return &cp
}

// dpiFor converts a scale factor (1.0 = 72 dpi) into a pdftoppm resolution.
func dpiFor(scale float64) int {
	if scale <= 0 {
		scale = 2
	}
	dpi := int(math.Round(baseDPI * scale))
	return min(max(dpi, minDPI), maxDPI)
}

// Rasterize returns PNG bytes per requested page; pages that neither render nor carry
// an image are left out. Exceeding the timeout yields a ConversionTimeout error.
func (r *PDFRasterizer) Rasterize(ctx context.Context, data []byte, pages []int, scale float64) (map[int][]byte, error) {
	if len(pages) == 0 {
		return map[int][]byte{}, nil
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	timedOut := func() error {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.ConversionTimeout(pages, ctx.Err())
		}
		return ctx.Err()
	}

	pages = r.existingPages(data, pages)
	out, missing, err := r.render(ctx, data, pages, dpiFor(scale))
	if ctx.Err() != nil {
		return nil, timedOut()
	}
	if err != nil {
		r.logger.Warn("page rendering unavailable, reading embedded images", "error", err)
	}
	if len(missing) == 0 {
		r.logger.Debug("pages rendered", "requested", len(pages), "dpi", dpiFor(scale))
		return out, nil
	}

	type result struct {
		images map[int][]byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		imgs, err := r.embeddedImages(data, missing)
		done <- result{imgs, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, res.err
		}
		for p, img := range res.images {
			out[p] = img
		}
		r.logger.Debug("pages rasterized", "requested", len(pages), "rendered", len(pages)-len(missing), "embedded", len(res.images))
		return out, nil
	case <-ctx.Done():
		return nil, timedOut()
	}
}

// existingPages drops page numbers beyond the document. When the page count cannot be
// read the list is kept as is.
func (r *PDFRasterizer) existingPages(data []byte, pages []int) []int {
	count, err := api.PageCount(bytes.NewReader(data), relaxedConf())
	if err != nil {
		return pages
	}
	kept := make([]int, 0, len(pages))
	for _, p := range pages {
		if p >= 1 && p <= count {
			kept = append(kept, p)
		}
	}
	return kept
}

// render runs pdftoppm once per page. It returns the rendered pages and the ones that
// still need an image; err is set when nothing could be attempted at all.
func (r *PDFRasterizer) render(ctx context.Context, data []byte, pages []int, dpi int) (map[int][]byte, []int, error) {
	out := make(map[int][]byte, len(pages))
	tmpDir, err := os.MkdirTemp("", "uwia-raster-*")
	if err != nil {
		return out, pages, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("remove temp dir failed", "dir", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return out, pages, err
	}

	var missing []int
	for _, p := range pages {
		if ctx.Err() != nil {
			return out, nil, ctx.Err()
		}
		n := strconv.Itoa(p)
		prefix := filepath.Join(tmpDir, "page-"+n)
		// pdftoppm -r <dpi> -png -f <p> -l <p> -singlefile <in.pdf> <prefix>
		_, _, err := r.runner.Run(ctx, r.pdftoppm, "-r", strconv.Itoa(dpi), "-png", "-f", n, "-l", n, "-singlefile", in, prefix)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return out, append(missing, pages[len(out)+len(missing):]...), err
			}
			missing = append(missing, p)
			continue
		}
		img, err := os.ReadFile(prefix + ".png")
		if err != nil || len(img) == 0 {
			missing = append(missing, p)
			continue
		}
		out[p] = img
	}
	return out, missing, nil
}

func (r *PDFRasterizer) embeddedImages(data []byte, pages []int) (map[int][]byte, error) {
	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p)
	}
	perPage, err := api.ExtractImagesRaw(bytes.NewReader(data), selected, relaxedConf())
	if err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	out := make(map[int][]byte)
	for _, imgs := range perPage {
		for _, img := range imgs {
			b, err := io.ReadAll(img)
			if err != nil {
				r.logger.Warn("read page image failed", "page", img.PageNr, "error", err)
				continue
			}
			if len(b) > len(out[img.PageNr]) {
				out[img.PageNr] = b
			}
		}
	}
	return out, nil
}
