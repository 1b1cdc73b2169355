package trace

import (
	"bufio"
	"errors"
	"io/fs"
	"os"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/rs/zerolog/log"
)

// Load reads the traced program at path and returns it in evaluation mode.
func Load(path string) (*Module, error) {
	log.Debug().Str("path", path).Msg("trace.Load")
	buf, err := os.ReadFile(path)
	if err != nil {
		reason := "read source artifact"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "source artifact does not exist"
		}
		return nil, convert.LoadError(path, err, reason)
	}
	m, err := Unmarshal(buf)
	if err != nil {
		return nil, convert.LoadError(path, err, "not a valid traced program")
	}
	m = m.Eval()
	log.Info().
		Str("path", path).
		Str("module", m.Name).
		Int("nodes", len(m.Graph.Nodes)).
		Int("params", len(m.Params)).
		Msg("trace.Load loaded")
	return m, nil
}

// Save writes m to path, replacing any existing file.
func Save(path string, m *Module) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if err := Encode(w, m); err != nil {
		return err
	}
	return w.Flush()
}
