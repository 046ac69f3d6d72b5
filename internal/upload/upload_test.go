package upload_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/castid/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mp4Header is the start of an ISO base media file with the 'isom' major brand
var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
	0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
}

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 'I', 'H', 'D', 'R'}

func videoContent(size int) []byte {
	content := make([]byte, size)
	copy(content, mp4Header)
	return content
}

func newStore(t *testing.T, sizeLimit string) (*upload.Store, string) {
	dir := t.TempDir()
	store, err := upload.New(upload.Config{SizeLimit: sizeLimit, PermittedExtensions: []string{".mp4", "mkv"}, WorkingDir: dir})
	require.NoError(t, err)

	return store, dir
}

func Test_Save_StoresValidVideo(t *testing.T) {
	store, dir := newStore(t, "1KB")
	runID := uuid.New()
	content := videoContent(1000)

	stored, err := store.Save(runID, "../../My Movie.MP4", bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "My Movie.MP4", stored.DisplayName)
	assert.Equal(t, int64(1000), stored.Size)
	assert.Equal(t, filepath.Join(dir, runID.String(), "My Movie.MP4"), stored.Path)

	written, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, content, written)

	_, err = os.Stat(stored.Path + ".partial")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Remove(runID))
	_, err = os.Stat(filepath.Join(dir, runID.String()))
	assert.True(t, os.IsNotExist(err))
}

func Test_Save_RejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		summary  string
		fileName string
		content  []byte
		message  string
	}{
		{"empty file", "movie.mp4", []byte{}, "The file is empty."},
		{"disallowed extension", "notes.txt", []byte("hello"), "The file type isn't permitted (allowed: .mp4, .mkv)."},
		{"missing name", "", videoContent(100), "The file name is missing."},
		{"signature mismatch", "movie.mp4", pngHeader, "The file type isn't permitted or the file's signature doesn't match the file's extension."},
		{"signature of another video type", "movie.mkv", videoContent(100), "The file type isn't permitted or the file's signature doesn't match the file's extension."},
		{"oversized", "movie.mp4", videoContent(1025), "The file exceeds 1.00KB."},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			store, dir := newStore(t, "1KB")
			runID := uuid.New()

			stored, err := store.Save(runID, tt.fileName, bytes.NewReader(tt.content))
			assert.Nil(t, stored)

			var validationErr *upload.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, "file", validationErr.Field)
			assert.Equal(t, tt.message, validationErr.Message)

			_, statErr := os.Stat(filepath.Join(dir, runID.String()))
			assert.True(t, os.IsNotExist(statErr), "rejected uploads must not be left on disk")
		})
	}
}

func Test_New_RejectsInvalidSizeLimit(t *testing.T) {
	_, err := upload.New(upload.Config{SizeLimit: "lots"})
	assert.Error(t, err)

	_, err = upload.New(upload.Config{SizeLimit: "0"})
	assert.Error(t, err)
}
