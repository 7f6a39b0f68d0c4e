// Package perturb produces visually identical copies of an image whose
// encoded bytes differ, by nudging a few random pixels.
package perturb

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math/rand/v2"

	"github.com/klauspost/compress/zip"
	"golang.org/x/image/draw"

	"github.com/maauso/productshot-api/internal/randsrc"
)

// MaxDelta is the largest change applied to a single color channel.
const MaxDelta = 2

var (
	// ErrInvalidCopies is returned when fewer than one copy is requested.
	ErrInvalidCopies = errors.New("perturb: copies must be at least 1")
	// ErrInvalidPixelCount is returned for a negative pixel count.
	ErrInvalidPixelCount = errors.New("perturb: pixels per copy must not be negative")
	// ErrEmptyImage is returned for nil or zero-sized images.
	ErrEmptyImage = errors.New("perturb: image is empty")
)

// Perturb returns copies of img, each with pixelsPerCopy randomly chosen
// pixels shifted by up to ±MaxDelta per RGB channel. Alpha is preserved
// and img is never modified. A nil rng uses a securely seeded source.
func Perturb(img image.Image, copies, pixelsPerCopy int, rng *rand.Rand) ([]*image.NRGBA, error) {
	if copies < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCopies, copies)
	}
	if pixelsPerCopy < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPixelCount, pixelsPerCopy)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if rng == nil {
		rng = randsrc.New()
	}

	base := ToNRGBA(img)
	out := make([]*image.NRGBA, copies)
	for i := range out {
		c := &image.NRGBA{
			Pix:    append([]uint8(nil), base.Pix...),
			Stride: base.Stride,
			Rect:   base.Rect,
		}
		PerturbInPlace(c, pixelsPerCopy, rng)
		out[i] = c
	}
	return out, nil
}

// PerturbInPlace modifies pixels random pixels of dst and returns the
// coordinates touched, in draw order. Coordinates may repeat.
func PerturbInPlace(dst *image.NRGBA, pixels int, rng *rand.Rand) []image.Point {
	b := dst.Bounds()
	if b.Empty() || pixels <= 0 {
		return nil
	}

	touched := make([]image.Point, 0, pixels)
	for range pixels {
		p := image.Pt(b.Min.X+rng.IntN(b.Dx()), b.Min.Y+rng.IntN(b.Dy()))
		off := dst.PixOffset(p.X, p.Y)
		for ch := 0; ch < 3; ch++ {
			delta := rng.IntN(2*MaxDelta+1) - MaxDelta
			dst.Pix[off+ch] = clamp(int(dst.Pix[off+ch]) + delta)
		}
		touched = append(touched, p)
	}
	return touched
}

// ToNRGBA returns a fresh NRGBA copy of img with the same bounds.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	if src, ok := img.(*image.NRGBA); ok {
		// Row copy keeps straight-alpha values exact.
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(dst.Pix[dst.PixOffset(b.Min.X, y):dst.PixOffset(b.Max.X, y)], src.Pix[src.PixOffset(b.Min.X, y):])
		}
		return dst
	}
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// CopyName returns the archive entry name for the n-th copy, starting at 1.
func CopyName(base string, n int) string {
	return fmt.Sprintf("%s_copy_%d.png", base, n)
}

// WriteArchive stores the copies as PNG entries of a ZIP archive.
func WriteArchive(w io.Writer, base string, copies []*image.NRGBA) ([]string, error) {
	zw := zip.NewWriter(w)
	names := make([]string, 0, len(copies))
	for i, img := range copies {
		name := CopyName(base, i+1)
		fw, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create archive entry %s: %w", name, err)
		}
		if err := png.Encode(fw, img); err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		names = append(names, name)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return names, nil
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
