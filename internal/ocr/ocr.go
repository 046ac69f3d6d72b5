// Package ocr reads the text from images using Tesseract.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hbomb79/castid/pkg/logger"
	"github.com/otiai10/gosseract/v2"
)

var log = logger.Get("OCR")

type Config struct {
	Languages []string `yaml:"languages" env:"OCR_LANGUAGES" env-default:"eng" env-separator:","`
}

// Recognizer wraps a single Tesseract client. The client is not safe for
// concurrent use, so reads are serialized.
type Recognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New constructs a recognizer, the caller must Close it once finished.
func New(config Config) (*Recognizer, error) {
	client := gosseract.NewClient()
	if len(config.Languages) > 0 {
		if err := client.SetLanguage(config.Languages...); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set OCR language: %w", err)
		}
	}

	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	log.Emit(logger.DEBUG, "Tesseract client initialised (languages %v)\n", config.Languages)
	return &Recognizer{client: client}, nil
}

// Read returns the text found in the image at the path provided.
func (recognizer *Recognizer) Read(ctx context.Context, imagePath string) (string, error) {
	recognizer.mu.Lock()
	defer recognizer.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := recognizer.client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("failed to load image %s: %w", imagePath, err)
	}

	text, err := recognizer.client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read text from image %s: %w", imagePath, err)
	}

	log.Emit(logger.VERBOSE, "Read %d lines from %s\n", strings.Count(text, "\n")+1, imagePath)
	return text, nil
}

func (recognizer *Recognizer) Close() error {
	recognizer.mu.Lock()
	defer recognizer.mu.Unlock()

	return recognizer.client.Close()
}
