package compose

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
)

// ErrLogoUnavailable is returned when a logo variant cannot be loaded.
// Callers are expected to warn and continue without a logo.
var ErrLogoUnavailable = errors.New("compose: logo unavailable")

// LogoVariant names one of the bundled full-canvas logo overlays.
type LogoVariant string

const (
	LogoNone  LogoVariant = "none"
	LogoBlack LogoVariant = "black"
	LogoWhite LogoVariant = "white"
)

// ParseLogoVariant maps an empty string to LogoNone.
func ParseLogoVariant(s string) (LogoVariant, error) {
	switch v := LogoVariant(strings.ToLower(strings.TrimSpace(s))); v {
	case "", LogoNone:
		return LogoNone, nil
	case LogoBlack, LogoWhite:
		return v, nil
	default:
		return LogoNone, fmt.Errorf("%w: unknown variant %q", ErrLogoUnavailable, s)
	}
}

// LogoStore loads logo overlays from a directory containing
// black_logo.png and white_logo.png.
type LogoStore struct {
	dir    string
	logger *slog.Logger
}

// NewLogoStore creates a LogoStore rooted at dir.
func NewLogoStore(dir string, logger *slog.Logger) *LogoStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogoStore{dir: dir, logger: logger}
}

// Path returns the file path for a variant.
func (s *LogoStore) Path(v LogoVariant) string {
	return filepath.Join(s.dir, string(v)+"_logo.png")
}

// Load decodes the logo for v. LogoNone yields a nil image and no error.
// A missing or unreadable file yields ErrLogoUnavailable.
func (s *LogoStore) Load(v LogoVariant) (image.Image, error) {
	if v == LogoNone || v == "" {
		return nil, nil
	}

	path := s.Path(v)
	img, err := FileBackedImage{Path: path}.Decode()
	if err != nil {
		s.logger.Warn("logo not loaded, continuing without it",
			slog.String("variant", string(v)),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrLogoUnavailable, err)
	}
	return img, nil
}
