package similarity

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"
)

var (
	errNoVideoStream = errors.New("no video stream")
	errNoFrames      = errors.New("video has no frames")
)

// FrameReader decodes a video into greyscale frames. fn is called once per
// frame in order; the slice is only valid for the duration of the call.
type FrameReader interface {
	ReadFrames(ctx context.Context, path string, fn func(frame []byte) error) error
}

type ffmpegReader struct {
	ffmpeg  string
	ffprobe string
	log     logrus.FieldLogger
}

// NewFFmpegReader creates a FrameReader that shells out to ffprobe for the
// frame size and ffmpeg for raw 8-bit greyscale frames.
func NewFFmpegReader(log logrus.FieldLogger, ffmpegPath, ffprobePath string) FrameReader {
	return &ffmpegReader{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		log:     log.WithField("component", "ffmpeg_reader"),
	}
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

func (r *ffmpegReader) dimensions(ctx context.Context, path string) (int, int, error) {
	//nolint:gosec // G204: binary path is operator configured
	out, err := exec.CommandContext(ctx, r.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("probing %s: %w", path, err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, 0, fmt.Errorf("parsing probe output: %w", err)
	}

	if len(probe.Streams) == 0 || probe.Streams[0].Width <= 0 || probe.Streams[0].Height <= 0 {
		return 0, 0, fmt.Errorf("%w: %s", errNoVideoStream, path)
	}

	return probe.Streams[0].Width, probe.Streams[0].Height, nil
}

func (r *ffmpegReader) ReadFrames(ctx context.Context, path string, fn func([]byte) error) error {
	width, height, err := r.dimensions(ctx, path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	//nolint:gosec // G204: binary path is operator configured
	cmd := exec.CommandContext(ctx, r.ffmpeg,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	frame := make([]byte, width*height)
	reader := bufio.NewReaderSize(stdout, len(frame))
	frames := 0

	var readErr error
	for {
		if _, err := io.ReadFull(reader, frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = fmt.Errorf("reading frame %d: %w", frames, err)
			}
			break
		}

		frames++

		if err := fn(frame); err != nil {
			readErr = err
			cancel()
			break
		}
	}

	waitErr := cmd.Wait()

	if readErr != nil {
		return readErr
	}

	if waitErr != nil {
		return fmt.Errorf("decoding %s: %w: %s", path, waitErr, bytes.TrimSpace(stderr.Bytes()))
	}

	if frames == 0 {
		return fmt.Errorf("%w: %s", errNoFrames, path)
	}

	r.log.WithFields(logrus.Fields{
		"path":   path,
		"frames": frames,
		"width":  width,
		"height": height,
	}).Debug("decoded video")

	return nil
}

// Compile-time interface compliance check
var _ FrameReader = (*ffmpegReader)(nil)
