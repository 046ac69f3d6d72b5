package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/castid/pkg/logger"
)

var log = logger.Get("FFmpeg")

type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_path" env:"FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_path" env:"FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
}

// FrameExtractor uses ffmpeg and ffprobe to inspect videos
// and save individual frames from them as images.
type FrameExtractor struct {
	config Config
}

func New(config Config) *FrameExtractor {
	return &FrameExtractor{config: config}
}

// SaveFrame writes the single frame found at the offset (in seconds) of the
// input video to the output path. The format of the image is determined by
// ffmpeg based on the extension of the output path.
func (extractor *FrameExtractor) SaveFrame(ctx context.Context, path string, outputPath string, offsetSeconds float64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create frame output directory: %w", err)
	}

	seek := strconv.FormatFloat(offsetSeconds, 'f', 3, 64)
	frames := 1
	overwrite := true
	opts := ffmpeg.Options{
		SeekTime:  &seek,
		Vframes:   &frames,
		Overwrite: &overwrite,
	}

	transcoder := ffmpeg.
		New(extractor.transcoderConfig(true)).
		Input(path).
		Output(outputPath).
		WithContext(&ctx)

	progressChannel, err := transcoder.Start(opts)
	if err != nil {
		return parseFfmpegError(err)
	}

	for prog := range progressChannel {
		log.Emit(logger.VERBOSE, "Frame extraction at %ss: %s frames processed\n", seek, prog.GetFramesProcessed())
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// ffmpeg exiting with an error is not reported via the progress
	// channel, so the presence of the output is our only signal.
	if info, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("ffmpeg did not produce frame at %ss: %w", seek, err)
	} else if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced empty frame at %ss", seek)
	}

	return nil
}

func (extractor *FrameExtractor) transcoderConfig(progress bool) *ffmpeg.Config {
	return &ffmpeg.Config{
		ProgressEnabled: progress,
		FfmpegBinPath:   extractor.config.FfmpegBinPath,
		FfprobeBinPath:  extractor.config.FfprobeBinPath,
	}
}

func parseFfmpegError(err error) error {
	// Try and pick out some relevant information from the HUGE
	// output log from ffmpeg. The error we get contains lots of information
	// about how the binary was compiled... this is useless info, we just
	// want the 'message' JSON that is encoded inside.
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out struct {
		Error struct {
			String string `json:"string"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil || out.Error.String == "" {
		return errors.New(groups[1])
	}

	return errors.New(out.Error.String)
}
