package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// checkFFmpeg skips test if ffmpeg is not available.
func checkFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// createTestVideo creates a short test video, with a sine tone when withAudio is set.
func createTestVideo(t *testing.T, outputPath string, durationSec float64, withAudio bool) {
	t.Helper()

	args := []string{"-y",
		"-f", "lavfi", "-i", "color=c=blue:s=32x32:d=" + formatDuration(durationSec),
	}
	if withAudio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:duration="+formatDuration(durationSec), "-c:a", "aac")
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p", outputPath)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func formatDuration(sec float64) string {
	// Format with 3 decimal places for ffmpeg
	return fmt.Sprintf("%.3f", sec)
}

func TestFFmpegExtractor_Extract(t *testing.T) {
	checkFFmpeg(t)

	tmpDir := t.TempDir()
	input := filepath.Join(tmpDir, "input.mp4")
	createTestVideo(t, input, 2, true)

	e := NewFFmpegExtractor("")
	output := filepath.Join(tmpDir, "audio.m4a")
	if err := e.Extract(context.Background(), input, output); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("output not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("output file is empty")
	}

	d, err := e.Duration(context.Background(), output)
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if d < 1.8 || d > 2.2 {
		t.Errorf("expected duration around 2s, got %.3f", d)
	}
}

func TestFFmpegExtractor_NoAudio(t *testing.T) {
	checkFFmpeg(t)

	tmpDir := t.TempDir()
	input := filepath.Join(tmpDir, "silent.mp4")
	createTestVideo(t, input, 1, false)

	e := NewFFmpegExtractor("")
	err := e.Extract(context.Background(), input, filepath.Join(tmpDir, "audio.m4a"))
	if !errors.Is(err, ErrNoAudioStream) {
		t.Errorf("expected ErrNoAudioStream, got %v", err)
	}
}

func TestFFmpegExtractor_ContextCancellation(t *testing.T) {
	checkFFmpeg(t)

	tmpDir := t.TempDir()
	input := filepath.Join(tmpDir, "input.mp4")
	createTestVideo(t, input, 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	e := NewFFmpegExtractor("")
	err := e.Extract(ctx, input, filepath.Join(tmpDir, "audio.m4a"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestFFmpegExtractor_NonExistentFile(t *testing.T) {
	e := NewFFmpegExtractor("")
	err := e.Extract(context.Background(), "/nonexistent/file.mp4", "/tmp/out.m4a")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    float64
		wantErr bool
	}{
		{"two digit fraction", "  Duration: 00:00:02.50, start: 0.000000, bitrate: 2 kb/s", 2.5, false},
		{"hours and minutes", "Duration: 01:02:03.25, start", 3723.25, false},
		{"three digit fraction", "Duration: 00:00:10.125", 10.125, false},
		{"missing", "Input #0, lavfi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDuration(tt.output)
			if tt.wantErr {
				if !errors.Is(err, ErrDurationNotFound) {
					t.Errorf("expected ErrDurationNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("parseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewFFmpegExtractor_DefaultPath(t *testing.T) {
	e := NewFFmpegExtractor("")
	if e.ffmpegPath != "ffmpeg" {
		t.Errorf("expected default path 'ffmpeg', got %q", e.ffmpegPath)
	}
}

func TestNewFFmpegExtractor_CustomPath(t *testing.T) {
	e := NewFFmpegExtractor("/custom/ffmpeg")
	if e.ffmpegPath != "/custom/ffmpeg" {
		t.Errorf("expected custom path '/custom/ffmpeg', got %q", e.ffmpegPath)
	}
}
