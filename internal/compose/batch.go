package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/sourcegraph/conc/pool"
)

var (
	// ErrEmptyBatch is returned when either input list is empty.
	ErrEmptyBatch = errors.New("compose: batch needs at least one background and one product")
	// ErrNothingComposed is returned when every pair in a batch failed.
	ErrNothingComposed = errors.New("compose: no composition succeeded")
)

// BatchRequest is the Cartesian product of backgrounds and products with
// shared composition parameters.
type BatchRequest struct {
	Backgrounds []Source
	Products    []Source
	Logo        image.Image

	ProductMaxEdge int
	OutputSize     int
	Format         Format

	MaskEnabled        bool
	MaskColor          color.RGBA
	MaskOpacityPercent int
	Placement          Placement

	// Progress, when set, is called after each pair with the number of
	// pairs finished so far. Calls are serialized.
	Progress func(completed, total int)
}

// Validate checks that both input lists are non-empty and the shared
// parameters are usable.
func (r BatchRequest) Validate() error {
	if len(r.Backgrounds) == 0 || len(r.Products) == 0 {
		return ErrEmptyBatch
	}
	return validateParams(r.OutputSize, r.ProductMaxEdge, r.MaskOpacityPercent, r.Format)
}

// PairError records a failed (background, product) composition.
type PairError struct {
	Background string
	Product    string
	Err        error
}

func (e PairError) Error() string {
	return fmt.Sprintf("%s × %s: %v", e.Background, e.Product, e.Err)
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    []PairError
	// Entries lists archive entry names in archive order.
	Entries []string
}

// BatchComposer composites every pair of a BatchRequest and writes the
// successes into a ZIP archive.
type BatchComposer struct {
	concurrency int
	quality     int
	logger      *slog.Logger
}

// BatchOption configures a BatchComposer.
type BatchOption func(*BatchComposer)

// WithConcurrency bounds the number of pairs composed in parallel.
func WithConcurrency(n int) BatchOption {
	return func(c *BatchComposer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithJPEGQuality sets the JPEG encoder quality.
func WithJPEGQuality(q int) BatchOption {
	return func(c *BatchComposer) {
		if q >= 1 && q <= 100 {
			c.quality = q
		}
	}
}

// WithLogger sets the logger used for per-pair failures.
func WithLogger(l *slog.Logger) BatchOption {
	return func(c *BatchComposer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewBatchComposer creates a BatchComposer.
func NewBatchComposer(opts ...BatchOption) *BatchComposer {
	c := &BatchComposer{
		concurrency: 4,
		quality:     DefaultJPEGQuality,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ArchiveName returns the download name for a batch archive.
func ArchiveName(outputSize int, f Format) string {
	return fmt.Sprintf("composites_%dpx_%s.zip", outputSize, strings.ToUpper(f.Ext()))
}

type decoded struct {
	img image.Image
	err error
}

type pairOutput struct {
	name string
	data []byte
	err  error
}

// Run composes all pairs and writes the archive to w. Invalid shared
// parameters fail the whole batch up front; pair failures are collected in
// the result and do not stop the batch. The archive is only
// written when at least one pair succeeded.
func (c *BatchComposer) Run(ctx context.Context, req BatchRequest, w io.Writer) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	backgrounds := c.decodeAll(req.Backgrounds)
	products := c.decodeAll(req.Products)

	total := len(req.Backgrounds) * len(req.Products)
	outputs := make([]pairOutput, total)

	var (
		mu        sync.Mutex
		completed int
	)
	report := func() {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if req.Progress != nil {
			req.Progress(completed, total)
		}
	}

	p := pool.New().WithMaxGoroutines(c.concurrency)
	for bi := range req.Backgrounds {
		for pi := range req.Products {
			slot := bi*len(req.Products) + pi
			p.Go(func() {
				defer report()
				if err := ctx.Err(); err != nil {
					outputs[slot].err = err
					return
				}
				outputs[slot] = c.composePair(req, backgrounds[bi], products[pi], req.Backgrounds[bi], req.Products[pi])
			})
		}
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}

	result := &BatchResult{Total: total}
	for slot, out := range outputs {
		if out.err == nil {
			result.Succeeded++
			continue
		}
		bg := req.Backgrounds[slot/len(req.Products)].Name()
		prod := req.Products[slot%len(req.Products)].Name()
		result.Failed = append(result.Failed, PairError{Background: bg, Product: prod, Err: out.err})
		c.logger.Warn("composition failed",
			slog.String("background", bg),
			slog.String("product", prod),
			slog.String("error", out.err.Error()),
		)
	}

	if result.Succeeded == 0 {
		return result, ErrNothingComposed
	}

	entries, err := writeArchive(w, outputs)
	if err != nil {
		return result, err
	}
	result.Entries = entries

	c.logger.Info("batch composed",
		slog.Int("total", result.Total),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (c *BatchComposer) decodeAll(sources []Source) []decoded {
	out := make([]decoded, len(sources))
	p := pool.New().WithMaxGoroutines(c.concurrency)
	for i, src := range sources {
		p.Go(func() {
			img, err := src.Decode()
			out[i] = decoded{img: img, err: err}
		})
	}
	p.Wait()
	return out
}

func (c *BatchComposer) composePair(req BatchRequest, bg, prod decoded, bgSrc, prodSrc Source) pairOutput {
	if bg.err != nil {
		return pairOutput{err: fmt.Errorf("background: %w", bg.err)}
	}
	if prod.err != nil {
		return pairOutput{err: fmt.Errorf("product: %w", prod.err)}
	}

	img, err := Compose(Request{
		Background:         bg.img,
		Product:            prod.img,
		Logo:               req.Logo,
		ProductMaxEdge:     req.ProductMaxEdge,
		OutputSize:         req.OutputSize,
		Format:             req.Format,
		MaskEnabled:        req.MaskEnabled,
		MaskColor:          req.MaskColor,
		MaskOpacityPercent: req.MaskOpacityPercent,
		Placement:          req.Placement,
	})
	if err != nil {
		return pairOutput{err: err}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, req.Format, c.quality); err != nil {
		return pairOutput{err: fmt.Errorf("encode: %w", err)}
	}

	name := fmt.Sprintf("%s_%s.%s", BaseName(bgSrc.Name()), BaseName(prodSrc.Name()), req.Format.Ext())
	return pairOutput{name: name, data: buf.Bytes()}
}

// writeArchive stores successful outputs in slot order. Repeated names get
// a numeric suffix.
func writeArchive(w io.Writer, outputs []pairOutput) ([]string, error) {
	zw := zip.NewWriter(w)
	seen := make(map[string]int)
	var entries []string

	for _, out := range outputs {
		if out.err != nil {
			continue
		}
		name := uniqueName(seen, out.name)
		fw, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create archive entry %s: %w", name, err)
		}
		if _, err := fw.Write(out.data); err != nil {
			return nil, fmt.Errorf("write archive entry %s: %w", name, err)
		}
		entries = append(entries, name)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return entries, nil
}

func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	n := seen[name]
	if n == 1 {
		return name
	}
	ext := ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		name, ext = name[:i], name[i:]
	}
	candidate := fmt.Sprintf("%s_%d%s", name, n, ext)
	for seen[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s_%d%s", name, n, ext)
	}
	seen[candidate]++
	return candidate
}
