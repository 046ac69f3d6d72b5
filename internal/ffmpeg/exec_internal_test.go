package ffmpeg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseFfmpegError(t *testing.T) {
	t.Run("extracts message from encoded error", func(t *testing.T) {
		raw := errors.New("ffmpeg version 6.0 built with gcc\nconfiguration: --enable-gpl\nmessage: {\"error\": {\"code\": -2, \"string\": \"No such file or directory\"}}")
		assert.EqualError(t, parseFfmpegError(raw), "No such file or directory")
	})

	t.Run("falls back to raw message when not json", func(t *testing.T) {
		raw := errors.New("failed: message: {not json}")
		assert.EqualError(t, parseFfmpegError(raw), "{not json}")
	})

	t.Run("returns original error without message", func(t *testing.T) {
		raw := errors.New("exec: \"ffmpeg\": executable file not found in $PATH")
		assert.Equal(t, raw, parseFfmpegError(raw))
	})
}

func Test_ParseDuration(t *testing.T) {
	duration, err := parseDuration("2000.040000")
	require.NoError(t, err)
	assert.InDelta(t, 2000.04, duration, 0.0001)

	_, err = parseDuration("N/A")
	assert.Error(t, err)

	_, err = parseDuration("-1")
	assert.Error(t, err)
}
