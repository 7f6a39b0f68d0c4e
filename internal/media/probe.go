package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Metadata describes the first video stream of a file.
type Metadata struct {
	Width  int
	Height int
	// FrameRate is the rational rate reported by ffprobe, e.g. "30000/1001".
	FrameRate string
	FPS       float64
	Frames    int
	Duration  float64
	HasAudio  bool
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	NbReadFrames string `json:"nb_read_frames"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe with frame counting enabled.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Metadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-count_frames",
		"-show_entries", "stream=codec_type,width,height,r_frame_rate,avg_frame_rate,nb_frames,nb_read_frames:format=duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Metadata{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("%w: decode output: %w", ErrFFprobeExecution, err)
	}

	var (
		meta  Metadata
		video *probeStream
	)
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			meta.HasAudio = true
		}
	}
	if video == nil || video.Width <= 0 || video.Height <= 0 {
		return Metadata{}, ErrNoVideoStream
	}

	meta.Width = video.Width
	meta.Height = video.Height

	meta.FrameRate = video.AvgFrameRate
	meta.FPS = parseRational(video.AvgFrameRate)
	if meta.FPS <= 0 {
		meta.FrameRate = video.RFrameRate
		meta.FPS = parseRational(video.RFrameRate)
	}

	meta.Frames = atoi(video.NbReadFrames)
	if meta.Frames == 0 {
		meta.Frames = atoi(video.NbFrames)
	}
	meta.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	return meta, nil
}

// parseRational parses "num/den" or a plain number. Invalid input yields 0.
func parseRational(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
