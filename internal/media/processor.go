// Package media wraps the ffmpeg and ffprobe command line tools for
// probing videos, streaming raw frames and muxing audio back in.
package media

import "context"

// Processor defines the video operations needed by the frame remover.
type Processor interface {
	// Probe reads stream metadata. Frame counts are exact, obtained by
	// decoding the whole video stream.
	Probe(ctx context.Context, path string) (Metadata, error)

	// OpenFrameReader decodes path into packed RGB24 frames of the given size.
	OpenFrameReader(ctx context.Context, path string, width, height int) (FrameReader, error)

	// OpenFrameWriter encodes packed RGB24 frames into an H.264 MP4 at path.
	OpenFrameWriter(ctx context.Context, path string, width, height int, frameRate string) (FrameWriter, error)

	// Remux combines the video stream of videoPath with the audio stream
	// of audioPath into output, re-encoding to H.264 and AAC.
	Remux(ctx context.Context, videoPath, audioPath, output string) error
}

// FrameReader yields decoded frames in presentation order.
type FrameReader interface {
	// Next returns the next frame, or io.EOF after the last one.
	Next() ([]byte, error)
	Close() error
}

// FrameWriter accepts frames for encoding.
type FrameWriter interface {
	Write(frame []byte) error
	// Close flushes the encoder and waits for the output to be written.
	Close() error
}
