package trace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

func TestLoadReturnsEvalModule(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tiny.etm")
	if err := Save(path, tinyModule()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Training {
		t.Fatalf("loaded module must be in eval mode")
	}
	if m.Name != "tiny" {
		t.Fatalf("unexpected name %q", m.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "absent.etm")
	_, err := Load(path)
	if !errors.Is(err, convert.ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", err)
	}
	var ce *convert.Error
	if !errors.As(err, &ce) || ce.Path != path {
		t.Fatalf("expected path on error, got %#v", err)
	}
}

func TestLoadGarbage(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "garbage.etm")
	if err := os.WriteFile(path, []byte("definitely not a model"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, convert.ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
}
