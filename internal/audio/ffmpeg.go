package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrNoAudioStream is returned when the input has no audio stream.
	ErrNoAudioStream = errors.New("no audio stream")
	// ErrDurationNotFound is returned when ffmpeg output carries no duration.
	ErrDurationNotFound = errors.New("could not parse duration from ffmpeg output")
)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

// FFmpegExtractor implements Extractor using ffmpeg CLI.
type FFmpegExtractor struct {
	ffmpegPath string
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegExtractor(ffmpegPath string) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegExtractor{ffmpegPath: ffmpegPath}
}

// Extract re-encodes the first audio stream of inputPath to AAC.
func (e *FFmpegExtractor) Extract(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-y",
		"-hide_banner",
		"-i", inputPath,
		"-map", "0:a:0",
		"-vn",
		"-c:a", "aac",
		"-b:a", "192k",
		outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		if isMissingAudio(stderr.String()) {
			return ErrNoAudioStream
		}
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// Duration returns the duration of a media file in seconds.
func (e *FFmpegExtractor) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", path,
		"-hide_banner",
		"-f", "null", "-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes duration info to stderr
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}

	return parseDuration(stderr.String())
}

// parseDuration reads the "Duration: HH:MM:SS.ff" banner line.
func parseDuration(output string) (float64, error) {
	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, ErrDurationNotFound
	}

	hours, _ := strconv.ParseFloat(matches[1], 64)
	minutes, _ := strconv.ParseFloat(matches[2], 64)
	seconds, _ := strconv.ParseFloat(matches[3], 64)
	frac, _ := strconv.ParseFloat("0."+matches[4], 64)

	return hours*3600 + minutes*60 + seconds + frac, nil
}

func isMissingAudio(stderr string) bool {
	return strings.Contains(stderr, "matches no streams") ||
		strings.Contains(stderr, "does not contain any stream")
}

// Verify interface implementation at compile time.
var _ Extractor = (*FFmpegExtractor)(nil)
