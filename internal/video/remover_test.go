package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/productshot-api/internal/audio"
	"github.com/maauso/productshot-api/internal/media"
	"github.com/maauso/productshot-api/internal/randsrc"
)

// fakeProcessor serves numbered one-byte frames and records what is written.
type fakeProcessor struct {
	meta     media.Metadata
	probeErr error
	remuxErr error

	mu      sync.Mutex
	written []byte
	remuxed bool
}

func (f *fakeProcessor) Probe(context.Context, string) (media.Metadata, error) {
	return f.meta, f.probeErr
}

func (f *fakeProcessor) OpenFrameReader(context.Context, string, int, int) (media.FrameReader, error) {
	return &fakeReader{total: f.meta.Frames}, nil
}

func (f *fakeProcessor) OpenFrameWriter(_ context.Context, path string, _, _ int, _ string) (media.FrameWriter, error) {
	return &fakeWriter{proc: f, path: path}, nil
}

func (f *fakeProcessor) Remux(_ context.Context, videoPath, audioPath, output string) error {
	if f.remuxErr != nil {
		return f.remuxErr
	}
	if _, err := os.Stat(audioPath); err != nil {
		return err
	}
	f.remuxed = true
	return media.CopyFile(videoPath, output)
}

type fakeReader struct {
	next, total int
}

func (r *fakeReader) Next() ([]byte, error) {
	if r.next >= r.total {
		return nil, io.EOF
	}
	r.next++
	return []byte{byte(r.next - 1)}, nil
}

func (r *fakeReader) Close() error { return nil }

type fakeWriter struct {
	proc *fakeProcessor
	path string
}

func (w *fakeWriter) Write(frame []byte) error {
	w.proc.mu.Lock()
	defer w.proc.mu.Unlock()
	w.proc.written = append(w.proc.written, frame...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.proc.mu.Lock()
	defer w.proc.mu.Unlock()
	return os.WriteFile(w.path, w.proc.written, 0600)
}

type fakeExtractor struct {
	err   error
	calls int
}

func (e *fakeExtractor) Extract(_ context.Context, _, output string) error {
	e.calls++
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(output, []byte("aac"), 0600)
}

func (e *fakeExtractor) Duration(context.Context, string) (float64, error) { return 0, nil }

func newInput(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(in, []byte("video"), 0600))
	return in, filepath.Join(dir, "out.mp4")
}

func meta(frames int, hasAudio bool) media.Metadata {
	return media.Metadata{Width: 4, Height: 4, FrameRate: "30/1", FPS: 30, Frames: frames, HasAudio: hasAudio}
}

func workDirs(t *testing.T, base string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(base, "frameremoval-*"))
	require.NoError(t, err)
	return matches
}

func TestIsSupportedContainer(t *testing.T) {
	for _, name := range []string{"a.mp4", "b.MOV", "/x/c.avi", "d.mkv"} {
		assert.True(t, IsSupportedContainer(name), name)
	}
	for _, name := range []string{"a.webm", "b", "c.mp4.txt"} {
		assert.False(t, IsSupportedContainer(name), name)
	}
}

func TestSelectFrames(t *testing.T) {
	rng := randsrc.NewSeeded(1)
	for total := 3; total < 40; total++ {
		for i := 0; i < 200; i++ {
			got := SelectFrames(total, rng)
			require.Len(t, got, 2)
			assert.Less(t, got[0], got[1], "indices must be distinct and sorted")
			if total-2 >= 2 {
				assert.GreaterOrEqual(t, got[0], 1)
				assert.LessOrEqual(t, got[1], total-2)
			} else {
				assert.GreaterOrEqual(t, got[0], 0)
				assert.LessOrEqual(t, got[1], total-1)
			}
		}
	}
}

func TestSelectFrames_CoversInnerRange(t *testing.T) {
	rng := randsrc.NewSeeded(2)
	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		for _, idx := range SelectFrames(10, rng) {
			seen[idx] = true
		}
	}
	for idx := 1; idx <= 8; idx++ {
		assert.True(t, seen[idx], "index %d never chosen", idx)
	}
	assert.False(t, seen[0])
	assert.False(t, seen[9])
}

func TestRemoveRandomFrames_WithAudio(t *testing.T) {
	in, out := newInput(t)
	tempDir := t.TempDir()
	proc := &fakeProcessor{meta: meta(90, true)}
	ext := &fakeExtractor{}

	var progress []float64
	r := NewFrameRemover(proc, ext, tempDir, nil)
	res, err := r.RemoveRandomFrames(context.Background(), Request{
		InputPath:  in,
		OutputPath: out,
		Rand:       randsrc.NewSeeded(9),
		Progress:   func(f float64) { progress = append(progress, f) },
	})
	require.NoError(t, err)

	assert.Equal(t, 88, res.FramesWritten)
	assert.Equal(t, 90, res.TotalFrames)
	assert.True(t, res.HasAudio)
	assert.Equal(t, RemediationAudioPreserved, res.Remediation)
	assert.Empty(t, res.Warnings)
	assert.True(t, proc.remuxed)

	// Written frames keep their order and skip exactly the removed ones.
	require.Len(t, proc.written, 88)
	for i := 1; i < len(proc.written); i++ {
		assert.Less(t, proc.written[i-1], proc.written[i])
	}
	for _, idx := range res.FramesRemoved {
		assert.NotContains(t, proc.written, byte(idx))
	}

	assert.Len(t, progress, 90)
	assert.InDelta(t, 1.0, progress[len(progress)-1], 1e-9)

	_, err = os.Stat(out)
	assert.NoError(t, err)
	assert.Empty(t, workDirs(t, tempDir), "work directory not cleaned up")
}

func TestRemoveRandomFrames_ReproducibleWithSeed(t *testing.T) {
	run := func() []int {
		in, out := newInput(t)
		r := NewFrameRemover(&fakeProcessor{meta: meta(50, false)}, &fakeExtractor{}, t.TempDir(), nil)
		res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out, Rand: randsrc.NewSeeded(77)})
		require.NoError(t, err)
		return res.FramesRemoved
	}
	assert.Equal(t, run(), run())
}

func TestRemoveRandomFrames_SilentVideo(t *testing.T) {
	in, out := newInput(t)
	ext := &fakeExtractor{}
	r := NewFrameRemover(&fakeProcessor{meta: meta(10, false)}, ext, t.TempDir(), nil)

	res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
	require.NoError(t, err)

	assert.False(t, res.HasAudio)
	assert.Equal(t, RemediationNoAudio, res.Remediation)
	assert.Equal(t, 8, res.FramesWritten)
	assert.Zero(t, ext.calls)
	assert.Empty(t, res.Warnings)
	for _, idx := range res.FramesRemoved {
		assert.GreaterOrEqual(t, idx, 1)
		assert.LessOrEqual(t, idx, 8)
	}
}

func TestRemoveRandomFrames_AudioExtractionFails(t *testing.T) {
	in, out := newInput(t)
	proc := &fakeProcessor{meta: meta(20, true)}
	r := NewFrameRemover(proc, &fakeExtractor{err: audio.ErrNoAudioStream}, t.TempDir(), nil)

	res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
	require.NoError(t, err)

	assert.False(t, res.HasAudio)
	assert.Equal(t, RemediationNoAudio, res.Remediation)
	assert.Len(t, res.Warnings, 1)
	assert.False(t, proc.remuxed)
	assert.Equal(t, 18, res.FramesWritten)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, data, 18)
}

func TestRemoveRandomFrames_RemuxFails(t *testing.T) {
	in, out := newInput(t)
	tempDir := t.TempDir()
	proc := &fakeProcessor{meta: meta(20, true), remuxErr: errors.New("muxer exploded")}
	r := NewFrameRemover(proc, &fakeExtractor{}, tempDir, nil)

	res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
	require.NoError(t, err)

	assert.False(t, res.HasAudio)
	assert.Equal(t, RemediationRemuxFailed, res.Remediation)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "muxer exploded")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, data, 18)
	assert.Empty(t, workDirs(t, tempDir))
}

func TestRemoveRandomFrames_Preconditions(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		dir := t.TempDir()
		out := filepath.Join(dir, "out.mp4")
		r := NewFrameRemover(&fakeProcessor{meta: meta(10, false)}, &fakeExtractor{}, dir, nil)

		_, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: filepath.Join(dir, "nope.mp4"), OutputPath: out})
		assert.ErrorIs(t, err, ErrFileNotFound)
		assert.NoFileExists(t, out)
	})

	t.Run("unreadable container", func(t *testing.T) {
		in, out := newInput(t)
		proc := &fakeProcessor{probeErr: fmt.Errorf("%w: moov atom not found", media.ErrFFprobeExecution)}
		r := NewFrameRemover(proc, &fakeExtractor{}, t.TempDir(), nil)

		_, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.ErrorIs(t, err, media.ErrFFprobeExecution)
		assert.NoFileExists(t, out)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		dir := t.TempDir()
		in := filepath.Join(dir, "clip.gif")
		require.NoError(t, os.WriteFile(in, []byte("gif"), 0600))
		out := filepath.Join(dir, "out.mp4")
		proc := &fakeProcessor{meta: meta(10, false)}
		r := NewFrameRemover(proc, &fakeExtractor{}, dir, nil)

		_, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.NoFileExists(t, out)
	})

	for _, frames := range []int{0, 1, 2} {
		t.Run(fmt.Sprintf("%d frames", frames), func(t *testing.T) {
			in, out := newInput(t)
			tempDir := t.TempDir()
			r := NewFrameRemover(&fakeProcessor{meta: meta(frames, true)}, &fakeExtractor{}, tempDir, nil)

			_, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
			assert.ErrorIs(t, err, ErrVideoTooShort)
			assert.NoFileExists(t, out)
			assert.Empty(t, workDirs(t, tempDir))
		})
	}
}

func TestRemoveRandomFrames_DegenerateThreeFrames(t *testing.T) {
	in, out := newInput(t)
	r := NewFrameRemover(&fakeProcessor{meta: meta(3, false)}, &fakeExtractor{}, t.TempDir(), nil)

	res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out, Rand: randsrc.NewSeeded(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FramesWritten)
	assert.Len(t, res.FramesRemoved, 2)
}

func TestRemoveRandomFrames_Cancelled(t *testing.T) {
	in, out := newInput(t)
	tempDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	r := NewFrameRemover(&fakeProcessor{meta: meta(100, false)}, &fakeExtractor{}, tempDir, nil)
	_, err := r.RemoveRandomFrames(ctx, Request{
		InputPath:  in,
		OutputPath: out,
		Progress: func(f float64) {
			if f > 0.5 {
				cancel()
			}
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
	assert.Empty(t, workDirs(t, tempDir))
}

func TestRemoveRandomFrames_ConcurrentCallsUseSeparateWorkDirs(t *testing.T) {
	tempDir := t.TempDir()
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		in, out := newInput(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := NewFrameRemover(&fakeProcessor{meta: meta(30, true)}, &fakeExtractor{}, tempDir, nil)
			res, err := r.RemoveRandomFrames(context.Background(), Request{InputPath: in, OutputPath: out})
			if err == nil && res.FramesWritten != 28 {
				err = fmt.Errorf("wrote %d frames", res.FramesWritten)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Empty(t, workDirs(t, tempDir))
}
