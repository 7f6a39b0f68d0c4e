// Package audio extracts audio tracks from media containers.
package audio

import "context"

// Extractor pulls the audio track out of a media file.
type Extractor interface {
	// Extract writes the first audio stream of inputPath to outputPath.
	// It returns ErrNoAudioStream when the input has no audio.
	Extract(ctx context.Context, inputPath, outputPath string) error

	// Duration returns the container duration in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}
