package ingest

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/h2non/filetype"
	"github.com/hbomb79/castid/pkg/logger"
)

// recursivelyWalkFileSystem will walk the file system, starting at the directory provided,
// and construct a map of all the files inside (including any inside of nested directories).
// Files whose paths are included in the 'known' map will NOT be included in the result.
// The key of the returned map is the path, and the value contains the FileInfo
func recursivelyWalkFileSystem(rootDirPath string, known map[string]struct{}) (map[string]fs.FileInfo, error) {
	foundItems := make(map[string]fs.FileInfo, 0)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !dir.IsDir() {
			fileInfo, err := dir.Info()
			if err != nil {
				return err
			}

			if _, ok := known[path]; !ok {
				foundItems[path] = fileInfo
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk file system: %w", err)
	}

	return foundItems, nil
}

func (service *ingestService) hasPermittedExtension(name string) bool {
	return slices.Contains(service.extensions, strings.ToLower(filepath.Ext(name)))
}

// isAcceptable returns true if the file at the path provided contains a video signature.
func (service *ingestService) isAcceptable(path string) bool {
	kind, err := filetype.MatchFile(path)
	if err != nil {
		log.Emit(logger.WARNING, "Unable to read signature of %s: %v\n", path, err)
		return false
	}

	return kind.MIME.Type == "video"
}
