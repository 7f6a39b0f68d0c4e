// Package video removes frames from videos so their encoded bytes change
// while playback stays visually the same.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maauso/productshot-api/internal/audio"
	"github.com/maauso/productshot-api/internal/media"
	"github.com/maauso/productshot-api/internal/randsrc"
)

// FramesToRemove is the number of frames dropped per invocation.
const FramesToRemove = 2

// SupportedContainers lists the accepted input file extensions.
var SupportedContainers = []string{".mp4", ".avi", ".mov", ".mkv"}

// IsSupportedContainer reports whether name has an accepted extension.
func IsSupportedContainer(name string) bool {
	return slices.Contains(SupportedContainers, strings.ToLower(filepath.Ext(name)))
}

// Static errors for frame removal. All are returned before the output
// path is touched.
var (
	ErrFileNotFound      = errors.New("video: input file not found")
	ErrUnsupportedFormat = errors.New("video: unsupported container or codec")
	ErrVideoTooShort     = errors.New("video: video must have more than 2 frames")
)

// Remediation tells which audio path a run took.
type Remediation string

const (
	// RemediationAudioPreserved means the audio track was muxed into the output.
	RemediationAudioPreserved Remediation = "audio_preserved"
	// RemediationNoAudio means the input had no audio or it could not be extracted.
	RemediationNoAudio Remediation = "audio_dropped"
	// RemediationRemuxFailed means audio was extracted but muxing failed,
	// so the video-only encode was delivered.
	RemediationRemuxFailed Remediation = "remux_failed_video_only"
)

// Request describes one frame-removal run.
type Request struct {
	InputPath  string
	OutputPath string
	// Progress receives the fraction of frames read, after each frame.
	Progress func(fraction float64)
	// Rand selects the dropped frames. Nil uses a securely seeded source.
	Rand *rand.Rand
}

// Result reports what a run did.
type Result struct {
	// FramesRemoved holds the dropped indices in ascending order.
	FramesRemoved []int
	FramesWritten int
	TotalFrames   int
	HasAudio      bool
	Remediation   Remediation
	// Warnings describes degraded steps, if any.
	Warnings []string
	Metadata media.Metadata
}

// FrameRemover drops two random frames from a video and re-encodes it,
// keeping the audio track when possible.
type FrameRemover struct {
	processor media.Processor
	extractor audio.Extractor
	tempDir   string
	logger    *slog.Logger
}

// NewFrameRemover creates a FrameRemover. Intermediate files are created
// in a fresh directory under tempDir for every call (os.TempDir when empty).
func NewFrameRemover(processor media.Processor, extractor audio.Extractor, tempDir string, logger *slog.Logger) *FrameRemover {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameRemover{
		processor: processor,
		extractor: extractor,
		tempDir:   tempDir,
		logger:    logger,
	}
}

// RemoveRandomFrames writes req.InputPath minus two frames to req.OutputPath.
// Audio extraction and remux failures degrade to a video-only output and
// are reported through Result.Warnings.
func (r *FrameRemover) RemoveRandomFrames(ctx context.Context, req Request) (*Result, error) {
	info, err := os.Stat(req.InputPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, req.InputPath)
	}
	if !IsSupportedContainer(req.InputPath) {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, filepath.Ext(req.InputPath))
	}

	meta, err := r.processor.Probe(ctx, req.InputPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	if meta.Frames <= FramesToRemove {
		return nil, fmt.Errorf("%w: got %d frames", ErrVideoTooShort, meta.Frames)
	}

	rng := req.Rand
	if rng == nil {
		rng = randsrc.New()
	}
	drop := SelectFrames(meta.Frames, rng)

	logger := r.logger.With(slog.String("input", filepath.Base(req.InputPath)))
	logger.Info("frames selected for removal",
		slog.Int("total_frames", meta.Frames),
		slog.Any("frames", drop),
		slog.Float64("fps", meta.FPS),
		slog.Int("width", meta.Width),
		slog.Int("height", meta.Height),
	)

	workDir, err := os.MkdirTemp(r.tempDir, "frameremoval-*")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	result := &Result{
		FramesRemoved: drop,
		TotalFrames:   meta.Frames,
		Metadata:      meta,
		Remediation:   RemediationNoAudio,
	}

	audioPath := filepath.Join(workDir, "audio.m4a")
	if meta.HasAudio {
		if err := r.extractor.Extract(ctx, req.InputPath, audioPath); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.warn(logger, "audio extraction failed, continuing without audio", err)
		} else {
			result.HasAudio = true
		}
	}

	videoOnly := filepath.Join(workDir, "video_only.mp4")
	written, err := r.reencode(ctx, req, meta, drop, videoOnly)
	if err != nil {
		return nil, err
	}
	result.FramesWritten = written
	if want := meta.Frames - len(drop); written != want {
		logger.Warn("written frame count differs from probe",
			slog.Int("written", written),
			slog.Int("expected", want),
		)
	}

	if result.HasAudio {
		if err := r.processor.Remux(ctx, videoOnly, audioPath, req.OutputPath); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.HasAudio = false
			result.Remediation = RemediationRemuxFailed
			result.warn(logger, "audio remux failed, delivering video without audio", err)
		} else {
			result.Remediation = RemediationAudioPreserved
		}
	}

	if !result.HasAudio {
		if err := media.CopyFile(videoOnly, req.OutputPath); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}

	logger.Info("frame removal completed",
		slog.Int("frames_written", result.FramesWritten),
		slog.Bool("has_audio", result.HasAudio),
		slog.String("remediation", string(result.Remediation)),
	)
	return result, nil
}

// reencode copies every frame except the dropped ones into path.
func (r *FrameRemover) reencode(ctx context.Context, req Request, meta media.Metadata, drop []int, path string) (int, error) {
	reader, err := r.processor.OpenFrameReader(ctx, req.InputPath, meta.Width, meta.Height)
	if err != nil {
		return 0, fmt.Errorf("%w: open decoder: %w", ErrUnsupportedFormat, err)
	}
	defer func() { _ = reader.Close() }()

	writer, err := r.processor.OpenFrameWriter(ctx, path, meta.Width, meta.Height, meta.FrameRate)
	if err != nil {
		return 0, fmt.Errorf("open encoder: %w", err)
	}

	written := 0
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			_ = writer.Close()
			return 0, err
		}

		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = writer.Close()
			return 0, fmt.Errorf("decode frame %d: %w", i, err)
		}

		if !slices.Contains(drop, i) {
			if err := writer.Write(frame); err != nil {
				_ = writer.Close()
				return 0, fmt.Errorf("encode frame %d: %w", i, err)
			}
			written++
		}

		if req.Progress != nil {
			req.Progress(min(1, float64(i+1)/float64(meta.Frames)))
		}
	}

	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("finish encode: %w", err)
	}
	return written, nil
}

func (res *Result) warn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, slog.String("error", err.Error()))
	res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// SelectFrames picks FramesToRemove distinct indices uniformly from
// [1, total-2], or from [0, total-1] when the inner range is too small.
// The result is sorted. total must be greater than FramesToRemove.
func SelectFrames(total int, rng *rand.Rand) []int {
	lo, n := 1, total-2
	if n < FramesToRemove {
		lo, n = 0, total
	}

	first := rng.IntN(n)
	second := rng.IntN(n - 1)
	if second >= first {
		second++
	}

	picked := []int{lo + first, lo + second}
	slices.Sort(picked)
	return picked
}
