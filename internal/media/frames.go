package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// FrameSize returns the byte length of one packed RGB24 frame.
func FrameSize(width, height int) int {
	return width * height * 3
}

// PipeFrameReader streams raw frames from an ffmpeg decoder process.
type PipeFrameReader struct {
	cmd       *exec.Cmd
	args      []string
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	cancel    context.CancelFunc
	frameSize int
	eof       bool
}

// OpenFrameReader starts an ffmpeg process decoding path to RGB24 on stdout.
func (p *FFmpegProcessor) OpenFrameReader(ctx context.Context, path string, width, height int) (FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}

	args := []string{
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}

	ctx, cancel := context.WithCancel(ctx)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	return &PipeFrameReader{
		cmd:       cmd,
		args:      args,
		stdout:    stdout,
		stderr:    stderr,
		cancel:    cancel,
		frameSize: FrameSize(width, height),
	}, nil
}

// Next reads one frame. It returns io.EOF once the decoder is exhausted.
func (r *PipeFrameReader) Next() ([]byte, error) {
	buf := make([]byte, r.frameSize)
	_, err := io.ReadFull(r.stdout, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF):
		r.eof = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read frame: %w", err)
	}
}

// Close stops the decoder. A decoder that failed after delivering all of
// its output is reported as an FFmpegError.
func (r *PipeFrameReader) Close() error {
	if !r.eof {
		r.cancel()
	}
	err := r.cmd.Wait()
	r.cancel()
	if r.eof && err != nil {
		return &FFmpegError{Args: r.args, Stderr: r.stderr.String(), Err: err}
	}
	return nil
}

// PipeFrameWriter feeds raw frames to an ffmpeg encoder process.
type PipeFrameWriter struct {
	cmd    *exec.Cmd
	args   []string
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	ctx    context.Context
	size   int
}

// OpenFrameWriter starts an ffmpeg process encoding RGB24 frames read from
// stdin into an H.264 MP4 with the given frame rate.
func (p *FFmpegProcessor) OpenFrameWriter(ctx context.Context, path string, width, height int, frameRate string) (FrameWriter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	if frameRate == "" {
		frameRate = "25"
	}

	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", strconv.Itoa(width) + "x" + strconv.Itoa(height),
		"-r", frameRate,
		"-i", "-",
		"-an",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
	}
	// yuv420p needs even dimensions.
	if width%2 != 0 || height%2 != 0 {
		args = append(args, "-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2")
	}
	args = append(args, "-movflags", "+faststart", path)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}

	return &PipeFrameWriter{
		cmd:    cmd,
		args:   args,
		stdin:  stdin,
		stderr: stderr,
		ctx:    ctx,
		size:   FrameSize(width, height),
	}, nil
}

// Write sends one frame to the encoder.
func (w *PipeFrameWriter) Write(frame []byte) error {
	if len(frame) != w.size {
		return fmt.Errorf("frame is %d bytes, want %d", len(frame), w.size)
	}
	if _, err := w.stdin.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close ends the input stream and waits for the encoder to finish.
func (w *PipeFrameWriter) Close() error {
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		if w.ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", w.ctx.Err())
		}
		return &FFmpegError{Args: w.args, Stderr: w.stderr.String(), Err: err}
	}
	return nil
}
