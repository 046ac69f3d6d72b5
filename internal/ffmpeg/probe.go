package ffmpeg

import (
	"context"
	"fmt"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/castid/internal/cast"
	"github.com/hbomb79/castid/pkg/logger"
)

// ProbeFile uses ffprobe to extract the metadata of the file at the path provided.
func (extractor *FrameExtractor) ProbeFile(path string) (transcoder.Metadata, error) {
	transcoder := ffmpeg.New(extractor.transcoderConfig(false)).Input(path)
	metadata, err := transcoder.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", parseFfmpegError(err))
	}

	return metadata, nil
}

// Metadata probes the file at the path given and returns its duration.
func (extractor *FrameExtractor) Metadata(ctx context.Context, path string) (*cast.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metadata, err := extractor.ProbeFile(path)
	if err != nil {
		return nil, err
	}

	duration, err := parseDuration(metadata.GetFormat().GetDuration())
	if err != nil {
		return nil, err
	}

	log.Emit(logger.DEBUG, "Probed %s: duration %.2fs\n", path, duration)
	return &cast.Metadata{DurationSeconds: duration}, nil
}

func parseDuration(raw string) (float64, error) {
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported unreadable duration %q: %w", raw, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("ffprobe reported negative duration %q", raw)
	}

	return duration, nil
}
