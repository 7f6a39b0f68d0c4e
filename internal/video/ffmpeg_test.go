package video

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/productshot-api/internal/audio"
	"github.com/maauso/productshot-api/internal/media"
	"github.com/maauso/productshot-api/internal/randsrc"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

func renderVideo(t *testing.T, path string, frames, fps int, withAudio bool) {
	t.Helper()
	args := []string{"-y", "-f", "lavfi", "-i", fmt.Sprintf("testsrc=size=96x64:rate=%d", fps)}
	if withAudio {
		args = append(args,
			"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=330:sample_rate=44100:duration=%.3f", float64(frames)/float64(fps)),
			"-c:a", "aac",
		)
	}
	args = append(args, "-frames:v", fmt.Sprint(frames), "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p", path)
	if output, err := exec.Command("ffmpeg", args...).CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func newFFmpegRemover(t *testing.T) (*FrameRemover, *media.FFmpegProcessor) {
	t.Helper()
	proc := media.NewFFmpegProcessor("")
	return NewFrameRemover(proc, audio.NewFFmpegExtractor(""), t.TempDir(), nil), proc
}

func TestFFmpeg_ThirtyFPSWithAudio(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	renderVideo(t, in, 90, 30, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	r, proc := newFFmpegRemover(t)
	res, err := r.RemoveRandomFrames(ctx, Request{InputPath: in, OutputPath: out, Rand: randsrc.NewSeeded(12)})
	require.NoError(t, err)

	assert.Equal(t, 88, res.FramesWritten)
	assert.True(t, res.HasAudio)
	assert.Equal(t, RemediationAudioPreserved, res.Remediation)
	for _, idx := range res.FramesRemoved {
		assert.GreaterOrEqual(t, idx, 1)
		assert.LessOrEqual(t, idx, 88)
	}

	meta, err := proc.Probe(ctx, out)
	require.NoError(t, err)
	assert.True(t, meta.HasAudio)
	assert.InDelta(t, 88, meta.Frames, 1)
	assert.InDelta(t, 30, meta.FPS, 0.01)
	assert.Equal(t, 96, meta.Width)
	assert.Equal(t, 64, meta.Height)
	assert.InDelta(t, 88.0/30.0, meta.Duration, 0.15)
}

func TestFFmpeg_TenFrameSilentVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.mov")
	out := filepath.Join(dir, "out.mp4")
	renderVideo(t, in, 10, 10, false)

	r, proc := newFFmpegRemover(t)
	res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
	require.NoError(t, err)

	assert.False(t, res.HasAudio)
	assert.Equal(t, 8, res.FramesWritten)
	assert.NotEqual(t, res.FramesRemoved[0], res.FramesRemoved[1])

	meta, err := proc.Probe(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 8, meta.Frames)
	assert.False(t, meta.HasAudio)
}

func TestFFmpeg_TwoFrameVideoRejected(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	out := filepath.Join(dir, "out.mp4")
	renderVideo(t, in, 2, 10, false)

	r, _ := newFFmpegRemover(t)
	_, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
	assert.ErrorIs(t, err, ErrVideoTooShort)
	assert.NoFileExists(t, out)
}
