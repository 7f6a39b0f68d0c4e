// Package compose composites product photos onto square backgrounds.
//
// Compose is a pure function: the same Request always yields the same image.
// Layers are applied in a fixed order (background, mask, product, logo) and
// the result is flattened onto white when the target format has no alpha.
package compose

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Static errors for composition requests.
var (
	// ErrInvalidOutputSize is returned when the output canvas size is not positive.
	ErrInvalidOutputSize = errors.New("compose: output size must be positive")
	// ErrInvalidProductEdge is returned when the product max edge is not positive.
	ErrInvalidProductEdge = errors.New("compose: product max edge must be positive")
	// ErrInvalidMaskOpacity is returned when the mask opacity is outside 0..100.
	ErrInvalidMaskOpacity = errors.New("compose: mask opacity must be within 0..100")
	// ErrNilImage is returned when the background or product image is missing.
	ErrNilImage = errors.New("compose: background and product images are required")
	// ErrEmptyImage is returned when an input image has no pixels.
	ErrEmptyImage = errors.New("compose: image has zero width or height")
)

// Request describes a single composition.
type Request struct {
	Background image.Image
	Product    image.Image
	// Logo is an optional full-canvas overlay. It is resampled when its
	// size differs from OutputSize × OutputSize.
	Logo image.Image

	ProductMaxEdge int
	OutputSize     int
	Format         Format

	MaskEnabled        bool
	MaskColor          color.RGBA
	MaskOpacityPercent int

	// Placement positions the product on the canvas. The zero value centers it.
	Placement Placement
}

// Validate checks the request preconditions.
func (r Request) Validate() error {
	if r.Background == nil || r.Product == nil {
		return ErrNilImage
	}
	if err := validateParams(r.OutputSize, r.ProductMaxEdge, r.MaskOpacityPercent, r.Format); err != nil {
		return err
	}
	if r.Background.Bounds().Empty() || r.Product.Bounds().Empty() {
		return ErrEmptyImage
	}
	return nil
}

func validateParams(outputSize, productMaxEdge, maskOpacity int, f Format) error {
	if outputSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidOutputSize, outputSize)
	}
	if productMaxEdge <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidProductEdge, productMaxEdge)
	}
	if maskOpacity < 0 || maskOpacity > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaskOpacity, maskOpacity)
	}
	if !f.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	return nil
}

// Compose renders the request onto an OutputSize × OutputSize canvas.
// PNG output keeps transparency; JPEG output is fully opaque.
func Compose(req Request) (image.Image, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	canvas := coverSquare(req.Background, req.OutputSize)

	if req.MaskEnabled && req.MaskOpacityPercent > 0 {
		applyMask(canvas, req.MaskColor, req.MaskOpacityPercent)
	}

	product := fitWithin(req.Product, req.ProductMaxEdge)
	pb := product.Bounds()
	origin := req.Placement.Offset(req.OutputSize, pb.Dx(), pb.Dy())
	draw.Draw(canvas, image.Rectangle{Min: origin, Max: origin.Add(pb.Size())}, product, pb.Min, draw.Over)

	if req.Logo != nil && !req.Logo.Bounds().Empty() {
		logo := req.Logo
		if lb := logo.Bounds(); lb.Dx() != req.OutputSize || lb.Dy() != req.OutputSize {
			logo = resample(logo, req.OutputSize, req.OutputSize)
		}
		draw.Draw(canvas, canvas.Bounds(), logo, logo.Bounds().Min, draw.Over)
	}

	if req.Format == FormatJPEG {
		return flatten(canvas), nil
	}
	return canvas, nil
}

// MaskAlpha converts an opacity percentage to an 8-bit alpha, rounding half up.
func MaskAlpha(percent int) uint8 {
	return uint8((percent*255 + 50) / 100)
}

// coverSquare scales img so its shorter side equals size and center-crops
// the longer side. The result always covers the whole canvas.
func coverSquare(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	sw, sh := size, size
	if w < h {
		sh = (h*size + w/2) / w
	} else if h < w {
		sw = (w*size + h/2) / h
	}

	scaled := resample(img, sw, sh)

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	crop := image.Pt((sw-size)/2, (sh-size)/2)
	draw.Draw(out, out.Bounds(), scaled, crop, draw.Src)
	return out
}

func applyMask(canvas *image.RGBA, c color.RGBA, percent int) {
	layer := image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: MaskAlpha(percent)})
	draw.Draw(canvas, canvas.Bounds(), layer, image.Point{}, draw.Over)
}

// fitWithin downscales img so its longer edge is at most maxEdge.
// Images already within bounds are returned unchanged.
func fitWithin(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	nw, nh := maxEdge, maxEdge
	if w > h {
		nh = max(1, (h*maxEdge+w/2)/w)
	} else if h > w {
		nw = max(1, (w*maxEdge+h/2)/h)
	}
	return resample(img, nw, nh)
}

func resample(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// flatten composites img onto an opaque white canvas.
func flatten(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}
