package pipeline

import (
	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/edge"
	"github.com/danmuck/edgeexport/internal/lower"
	"github.com/danmuck/edgeexport/internal/trace"
)

// Stage boundaries. Each has one default implementation backed by the package that
// owns the artifact format; tests substitute fakes.
type (
	Loader interface {
		Load(path string) (*trace.Module, error)
	}
	Capturer interface {
		Capture(m *trace.Module, cal capture.Calibration) (*capture.Program, error)
	}
	Lowerer interface {
		Lower(p *capture.Program, opts lower.Options) (*edge.Program, error)
	}
	Encoder interface {
		Encode(p *edge.Program) ([]byte, error)
	}
	// Writer publishes an artifact. Implementations must be atomic: a failed Write
	// leaves an existing file at path untouched. The converter only cleans up paths
	// that did not exist before the write.
	Writer interface {
		Write(path string, buf []byte) error
	}
)

type TraceLoader struct{}

func (TraceLoader) Load(path string) (*trace.Module, error) { return trace.Load(path) }

type StaticCapturer struct{}

func (StaticCapturer) Capture(m *trace.Module, cal capture.Calibration) (*capture.Program, error) {
	return capture.Capture(m, cal)
}

type EdgeLowerer struct{}

func (EdgeLowerer) Lower(p *capture.Program, opts lower.Options) (*edge.Program, error) {
	return lower.Lower(p, opts)
}

type EdgeEncoder struct{}

func (EdgeEncoder) Encode(p *edge.Program) ([]byte, error) { return edge.Encode(p) }

// AtomicWriter publishes artifacts with a temp file and rename. Without Overwrite an
// existing destination is a write error.
type AtomicWriter struct {
	Overwrite bool
}

func (w AtomicWriter) Write(path string, buf []byte) error {
	if w.Overwrite {
		return edge.WriteFile(path, buf)
	}
	return edge.CreateFile(path, buf)
}
