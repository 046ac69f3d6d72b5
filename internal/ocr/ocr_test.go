package ocr_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hbomb79/castid/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecognizer(t *testing.T) *ocr.Recognizer {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not available on this host")
	}

	recognizer, err := ocr.New(ocr.Config{Languages: []string{"eng"}})
	require.NoError(t, err)
	t.Cleanup(func() { recognizer.Close() })

	return recognizer
}

func Test_Read_MissingImage(t *testing.T) {
	recognizer := newRecognizer(t)

	_, err := recognizer.Read(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func Test_Read_CancelledContext(t *testing.T) {
	recognizer := newRecognizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := recognizer.Read(ctx, "irrelevant.png")
	assert.ErrorIs(t, err, context.Canceled)
}
