package edge

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/rs/zerolog/log"
)

// WriteFile persists buf at path atomically, replacing any existing file. On failure
// nothing is left at path and the temporary file is removed.
func WriteFile(path string, buf []byte) error {
	return writeFile(path, buf, true)
}

// CreateFile is WriteFile that refuses to replace an existing artifact.
func CreateFile(path string, buf []byte) error {
	return writeFile(path, buf, false)
}

func writeFile(path string, buf []byte, overwrite bool) (err error) {
	if len(buf) == 0 {
		return convert.WriteError(path, nil, "refusing to write an empty artifact")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return convert.WriteError(path, err, "create temporary file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				log.Warn().Err(rmErr).Str("tmp", tmpName).Msg("edge.WriteFile cleanup failed")
			}
		}
	}()

	if _, err = tmp.Write(buf); err != nil {
		tmp.Close()
		return convert.WriteError(path, err, "write artifact")
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return convert.WriteError(path, err, "sync artifact")
	}
	if err = tmp.Close(); err != nil {
		return convert.WriteError(path, err, "close artifact")
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return convert.WriteError(path, err, "set artifact mode")
	}

	if overwrite {
		if err = os.Rename(tmpName, path); err != nil {
			return convert.WriteError(path, err, "move artifact into place")
		}
	} else {
		// Link fails if path exists, so the check and the publish are one step.
		if err = os.Link(tmpName, path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return convert.WriteError(path, err, "destination already exists")
			}
			return convert.WriteError(path, err, "move artifact into place")
		}
		if rmErr := os.Remove(tmpName); rmErr != nil {
			log.Warn().Err(rmErr).Str("tmp", tmpName).Msg("edge.CreateFile cleanup failed")
		}
	}
	log.Info().Str("path", path).Int("bytes", len(buf)).Msg("edge.WriteFile wrote")
	return nil
}
