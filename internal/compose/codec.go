package compose

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	// Extra decoders for uploaded backgrounds and products.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is the encoder quality used when none is configured.
const DefaultJPEGQuality = 95

var (
	// ErrUnsupportedFormat is returned for output formats other than JPEG and PNG.
	ErrUnsupportedFormat = errors.New("compose: unsupported output format")
	// ErrDecode is returned when an input image cannot be decoded.
	ErrDecode = errors.New("compose: decode image")
)

// Format is the encoded output format of a composition.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// ParseFormat accepts "jpeg", "jpg" and "png" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	return f == FormatJPEG || f == FormatPNG
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Decode reads any registered raster format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, name, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, name, nil
}

// Encode writes img in the given format. quality applies to JPEG only;
// values outside 1..100 fall back to DefaultJPEGQuality.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	switch f {
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		return png.Encode(w, img)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}
