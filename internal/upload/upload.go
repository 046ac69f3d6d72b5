// Package upload validates video files provided by users and streams them
// to a working directory, where they remain until the detection run for
// the file has completed.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/hbomb79/castid/pkg/logger"
	"github.com/labstack/gommon/bytes"
)

var log = logger.Get("Upload")

// headerSize is the number of bytes filetype requires to match all known signatures.
const headerSize = 262

type (
	Config struct {
		SizeLimit           string   `yaml:"size_limit" env:"UPLOAD_SIZE_LIMIT" env-default:"4GB"`
		PermittedExtensions []string `yaml:"permitted_extensions" env:"UPLOAD_PERMITTED_EXTENSIONS" env-default:".mp4,.mkv" env-separator:","`
		WorkingDir          string   `yaml:"working_dir" env:"UPLOAD_WORKING_DIR" env-default:"~/.cache/castid/uploads"`
	}

	// ValidationError describes why an uploaded file was
	// rejected, and is safe to show to the user.
	ValidationError struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}

	StoredFile struct {
		Path        string
		DisplayName string
		Size        int64
	}

	Store struct {
		workingDir string
		sizeLimit  int64
		extensions []string
	}
)

func (err *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", err.Field, err.Message)
}

// New constructs a store for the configuration provided. An error is returned if
// the size limit cannot be parsed (e.g. "512MB", "4GB").
func New(config Config) (*Store, error) {
	sizeLimit, err := bytes.Parse(config.SizeLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid upload size limit %q: %w", config.SizeLimit, err)
	} else if sizeLimit <= 0 {
		return nil, fmt.Errorf("upload size limit must be positive, got %q", config.SizeLimit)
	}

	extensions := make([]string, 0, len(config.PermittedExtensions))
	for _, ext := range config.PermittedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != "" {
			extensions = append(extensions, ext)
		}
	}

	return &Store{workingDir: config.WorkingDir, sizeLimit: sizeLimit, extensions: extensions}, nil
}

// Save validates the name and content of the file provided and streams it to
// a directory owned by the run. The file is rejected with a *ValidationError if it
// is empty, too large, has an extension which is not permitted, or if the content
// does not match the signature expected for its extension.
func (store *Store) Save(runID uuid.UUID, fileName string, src io.Reader) (*StoredFile, error) {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(fileName, "\\", "/")))
	if name == "/" || name == "." || name == "" {
		return nil, &ValidationError{Field: "file", Message: "The file name is missing."}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(store.extensions, ext) {
		return nil, &ValidationError{Field: "file", Message: fmt.Sprintf("The file type isn't permitted (allowed: %s).", strings.Join(store.extensions, ", "))}
	}

	dir := store.runDir(runID)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	stored, err := store.stream(dir, name, ext, src)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Emit(logger.WARNING, "Failed to clean up rejected upload %s: %v\n", dir, rmErr)
		}
		return nil, err
	}

	log.Emit(logger.SUCCESS, "Stored upload %q (%s) at %s\n", name, bytes.Format(stored.Size), stored.Path)
	return stored, nil
}

func (store *Store) stream(dir string, name string, ext string, src io.Reader) (*StoredFile, error) {
	partialPath := filepath.Join(dir, name+".partial")
	dst, err := os.Create(partialPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	header := make([]byte, headerSize)
	headerLen, err := io.ReadFull(src, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	header = header[:headerLen]

	if headerLen == 0 {
		return nil, &ValidationError{Field: "file", Message: "The file is empty."}
	}
	if !signatureMatches(header, ext) {
		return nil, &ValidationError{Field: "file", Message: "The file type isn't permitted or the file's signature doesn't match the file's extension."}
	}

	if _, err := dst.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	// Read one byte past the limit so oversized files can be detected
	remaining := store.sizeLimit - int64(headerLen) + 1
	copied, err := io.Copy(dst, io.LimitReader(src, max(remaining, 1)))
	if err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	size := int64(headerLen) + copied
	if size > store.sizeLimit {
		return nil, &ValidationError{Field: "file", Message: fmt.Sprintf("The file exceeds %s.", bytes.Format(store.sizeLimit))}
	}

	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	finalPath := filepath.Join(dir, name)
	if err := os.Rename(partialPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to finalise upload: %w", err)
	}

	return &StoredFile{Path: finalPath, DisplayName: name, Size: size}, nil
}

// Remove deletes the directory holding the upload for the run provided.
func (store *Store) Remove(runID uuid.UUID) error {
	return os.RemoveAll(store.runDir(runID))
}

func (store *Store) runDir(runID uuid.UUID) string {
	return filepath.Join(store.workingDir, runID.String())
}

// signatureMatches returns true if the header provided is a video whose
// detected type matches the extension given.
func signatureMatches(header []byte, ext string) bool {
	if !filetype.IsVideo(header) {
		return false
	}

	kind, err := filetype.Match(header)
	if err != nil || kind == filetype.Unknown {
		return false
	}

	return "."+kind.Extension == ext
}
