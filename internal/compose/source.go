package compose

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Source is a named image that can be decoded on demand. Batch inputs may
// come from disk, from memory, or from uploaded bytes.
type Source interface {
	// Name is the original file name, including extension.
	Name() string
	// Type is the MIME type, when known.
	Type() string
	Decode() (image.Image, error)
}

// FileBackedImage reads and decodes an image file on each Decode call.
type FileBackedImage struct {
	Path string
	// Label overrides the name derived from Path, for files saved under a
	// generated name.
	Label string
}

func (f FileBackedImage) Name() string {
	if f.Label != "" {
		return filepath.Base(f.Label)
	}
	return filepath.Base(f.Path)
}

func (f FileBackedImage) Type() string { return mimeFromName(f.Name()) }

func (f FileBackedImage) Decode() (image.Image, error) {
	file, err := os.Open(f.Path) // #nosec G304 - path comes from the caller's own upload directory
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer func() { _ = file.Close() }()

	img, _, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return img, nil
}

// InMemoryImage wraps an already decoded image.
type InMemoryImage struct {
	Label string
	MIME  string
	Img   image.Image
}

func (m InMemoryImage) Name() string { return m.Label }

func (m InMemoryImage) Type() string {
	if m.MIME != "" {
		return m.MIME
	}
	return mimeFromName(m.Label)
}

func (m InMemoryImage) Decode() (image.Image, error) {
	if m.Img == nil {
		return nil, fmt.Errorf("%s: %w", m.Label, ErrNilImage)
	}
	return m.Img, nil
}

// BytesImage holds encoded image bytes, typically a multipart upload.
type BytesImage struct {
	Label string
	MIME  string
	Data  []byte
}

func (b BytesImage) Name() string { return b.Label }

func (b BytesImage) Type() string {
	if b.MIME != "" {
		return b.MIME
	}
	return mimeFromName(b.Label)
}

func (b BytesImage) Decode() (image.Image, error) {
	img, _, err := Decode(bytes.NewReader(b.Data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Label, err)
	}
	return img, nil
}

// BaseName strips the directory and extension from name.
func BaseName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func mimeFromName(name string) string {
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
}
