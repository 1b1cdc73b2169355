package observability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordStage("load", 3*time.Millisecond, nil)
	RecordStage("capture", 9*time.Millisecond, convert.CaptureError(nil, "data-dependent"))
	RecordConversion(errors.New("plain"))
	RecordArtifact("conv-relu", 4096)

	path := filepath.Join(t.TempDir(), "edgeexport.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		`edgeexport_stage_runs_total{outcome="ok",stage="load"}`,
		`edgeexport_stage_runs_total{outcome="CaptureError",stage="capture"}`,
		`edgeexport_pipeline_conversions_total{result="error"}`,
		`edgeexport_artifact_bytes{program="conv-relu"} 4096`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %s:\n%s", want, text)
		}
	}
}
