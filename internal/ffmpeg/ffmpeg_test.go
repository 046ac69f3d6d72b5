package ffmpeg_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hbomb79/castid/internal/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateVideo uses the ffmpeg test source to produce a short
// video, skipping the test if ffmpeg is not installed.
func generateVideo(t *testing.T) (ffmpeg.Config, string) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not available on this host")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not available on this host")
	}

	videoPath := filepath.Join(t.TempDir(), "testsrc.mp4")
	cmd := exec.Command(ffmpegPath, "-hide_banner", "-loglevel", "error", "-f", "lavfi", "-i", "testsrc=duration=4:size=160x120:rate=10", videoPath)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "failed to generate test video: %s", out)

	return ffmpeg.Config{FfmpegBinPath: ffmpegPath, FfprobeBinPath: ffprobePath}, videoPath
}

func Test_FrameExtractor_Metadata(t *testing.T) {
	config, videoPath := generateVideo(t)
	extractor := ffmpeg.New(config)

	meta, err := extractor.Metadata(context.Background(), videoPath)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, meta.DurationSeconds, 0.5)
}

func Test_FrameExtractor_SaveFrame(t *testing.T) {
	config, videoPath := generateVideo(t)
	extractor := ffmpeg.New(config)

	framePath := filepath.Join(t.TempDir(), "frames", "frame2.jpeg")
	require.NoError(t, extractor.SaveFrame(context.Background(), videoPath, framePath, 2))

	info, err := os.Stat(framePath)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func Test_FrameExtractor_MissingInput(t *testing.T) {
	config, _ := generateVideo(t)
	extractor := ffmpeg.New(config)

	_, err := extractor.Metadata(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}
