package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTestVideo renders a lavfi test pattern with an exact frame count,
// optionally with a sine audio track of the same duration.
func createTestVideo(t *testing.T, path string, frames, fps int, withAudio bool) {
	t.Helper()

	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("testsrc=size=64x48:rate=%d", fps),
	}
	if withAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", fmt.Sprintf("sine=frequency=440:sample_rate=44100:duration=%.3f", float64(frames)/float64(fps)),
			"-c:a", "aac",
		)
	}
	args = append(args,
		"-frames:v", fmt.Sprint(frames),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default paths", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
		if p.ffprobePath != "ffprobe" {
			t.Errorf("expected default path 'ffprobe', got %q", p.ffprobePath)
		}
	})

	t.Run("custom paths", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg", WithFFprobePath("/usr/local/bin/ffprobe"))
		assert.Equal(t, "/usr/local/bin/ffmpeg", p.ffmpegPath)
		assert.Equal(t, "/usr/local/bin/ffprobe", p.ffprobePath)
	})
}

func TestParseProbe(t *testing.T) {
	t.Run("video and audio", func(t *testing.T) {
		data := []byte(`{
			"streams": [
				{"codec_type": "video", "width": 1280, "height": 720, "r_frame_rate": "30/1", "avg_frame_rate": "30/1", "nb_frames": "90", "nb_read_frames": "90"},
				{"codec_type": "audio"}
			],
			"format": {"duration": "3.000000"}
		}`)
		meta, err := parseProbe(data)
		require.NoError(t, err)
		assert.Equal(t, Metadata{
			Width: 1280, Height: 720, FrameRate: "30/1", FPS: 30,
			Frames: 90, Duration: 3, HasAudio: true,
		}, meta)
	})

	t.Run("falls back to r_frame_rate and nb_frames", func(t *testing.T) {
		data := []byte(`{"streams": [{"codec_type": "video", "width": 64, "height": 48, "r_frame_rate": "30000/1001", "avg_frame_rate": "0/0", "nb_frames": "12"}]}`)
		meta, err := parseProbe(data)
		require.NoError(t, err)
		assert.Equal(t, "30000/1001", meta.FrameRate)
		assert.InDelta(t, 29.97, meta.FPS, 0.01)
		assert.Equal(t, 12, meta.Frames)
		assert.False(t, meta.HasAudio)
	})

	t.Run("audio only", func(t *testing.T) {
		_, err := parseProbe([]byte(`{"streams": [{"codec_type": "audio"}]}`))
		assert.ErrorIs(t, err, ErrNoVideoStream)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseProbe([]byte("not json"))
		assert.ErrorIs(t, err, ErrFFprobeExecution)
	})
}

func TestParseRational(t *testing.T) {
	tests := map[string]float64{
		"30/1":       30,
		"25":         25,
		"24000/1001": 24000.0 / 1001,
		"0/0":        0,
		"":           0,
		"abc/1":      0,
	}
	for in, want := range tests {
		assert.InDelta(t, want, parseRational(in), 1e-9, "input %q", in)
	}
}

func TestProbe(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	ctx := context.Background()
	p := NewFFmpegProcessor("")

	t.Run("counts frames", func(t *testing.T) {
		path := filepath.Join(tmpDir, "with_audio.mp4")
		createTestVideo(t, path, 20, 10, true)

		meta, err := p.Probe(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 64, meta.Width)
		assert.Equal(t, 48, meta.Height)
		assert.Equal(t, 20, meta.Frames)
		assert.InDelta(t, 10, meta.FPS, 0.01)
		assert.True(t, meta.HasAudio)
	})

	t.Run("not a video", func(t *testing.T) {
		path := filepath.Join(tmpDir, "text.mp4")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

		_, err := p.Probe(ctx, path)
		assert.ErrorIs(t, err, ErrFFprobeExecution)
	})

	t.Run("cancelled", func(t *testing.T) {
		path := filepath.Join(tmpDir, "with_audio.mp4")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Probe(cctx, path)
		assert.Error(t, err)
	})
}

func TestFramePipes_RoundTrip(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	p := NewFFmpegProcessor("")

	input := filepath.Join(tmpDir, "input.mp4")
	createTestVideo(t, input, 15, 15, false)

	reader, err := p.OpenFrameReader(ctx, input, 64, 48)
	require.NoError(t, err)

	output := filepath.Join(tmpDir, "output.mp4")
	writer, err := p.OpenFrameWriter(ctx, output, 64, 48, "15/1")
	require.NoError(t, err)

	read := 0
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Len(t, frame, FrameSize(64, 48))
		read++
		if read%3 == 0 {
			continue
		}
		require.NoError(t, writer.Write(frame))
	}
	require.NoError(t, reader.Close())
	require.NoError(t, writer.Close())

	assert.Equal(t, 15, read)
	meta, err := p.Probe(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, 10, meta.Frames)
	assert.Equal(t, 64, meta.Width)
	assert.InDelta(t, 15, meta.FPS, 0.01)
}

func TestFrameReader_CloseEarly(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	p := NewFFmpegProcessor("")
	input := filepath.Join(tmpDir, "input.mp4")
	createTestVideo(t, input, 60, 30, false)

	reader, err := p.OpenFrameReader(context.Background(), input, 64, 48)
	require.NoError(t, err)
	_, err = reader.Next()
	require.NoError(t, err)
	assert.NoError(t, reader.Close())
}

func TestFrameWriter_RejectsWrongSize(t *testing.T) {
	skipIfNoFFmpeg(t)

	p := NewFFmpegProcessor("")
	writer, err := p.OpenFrameWriter(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, "")
	require.NoError(t, err)
	assert.Error(t, writer.Write(make([]byte, 5)))
	_ = writer.Close()
}

func TestOpenPipes_InvalidDimensions(t *testing.T) {
	p := NewFFmpegProcessor("")
	_, err := p.OpenFrameReader(context.Background(), "in.mp4", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
	_, err = p.OpenFrameWriter(context.Background(), "out.mp4", 10, -1, "30")
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestRemux(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	ctx := context.Background()
	p := NewFFmpegProcessor("")

	withAudio := filepath.Join(tmpDir, "with_audio.mp4")
	createTestVideo(t, withAudio, 30, 30, true)
	silent := filepath.Join(tmpDir, "silent.mp4")
	createTestVideo(t, silent, 30, 30, false)

	t.Run("muxes audio", func(t *testing.T) {
		out := filepath.Join(tmpDir, "muxed.mp4")
		require.NoError(t, p.Remux(ctx, silent, withAudio, out))

		meta, err := p.Probe(ctx, out)
		require.NoError(t, err)
		assert.True(t, meta.HasAudio)
		assert.InDelta(t, 30, meta.Frames, 1)
	})

	t.Run("fails without audio stream", func(t *testing.T) {
		out := filepath.Join(tmpDir, "fail.mp4")
		err := p.Remux(ctx, silent, silent, out)
		var ffErr *FFmpegError
		assert.ErrorAs(t, err, &ffErr)
	})
}

func TestCopyFile(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.bin")
	dst := filepath.Join(tmpDir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0600))

	require.NoError(t, CopyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Error(t, CopyFile(filepath.Join(tmpDir, "missing"), dst))
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4", "-c", "copy", "output.mp4"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}
