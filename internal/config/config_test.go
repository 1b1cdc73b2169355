package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

func TestTemplateRoundTrips(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadExportConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.Calibration.DType != "float32" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Calibration.Shape) != 4 || cfg.Calibration.Shape[3] != 224 {
		t.Fatalf("unexpected shape %v", cfg.Calibration.Shape)
	}
	if !cfg.Lowering.FoldBatchNorm || !cfg.Output.Overwrite {
		t.Fatalf("unexpected switches %+v", cfg)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing template to be kept")
	}
}

func TestLoadExportConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := "[calibration]\nshap = [1, 3, 8, 8]\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadExportConfig(path)
	if err == nil || !strings.Contains(err.Error(), "shap") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateExportConfig(t *testing.T) {
	base := ExportConfig{
		LogLevel:    "debug",
		Calibration: CalibrationConfig{Name: "x", Shape: []int{1, 3, 8, 8}, DType: "float32"},
	}
	if err := ValidateExportConfig(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cases := map[string]func(*ExportConfig){
		"level": func(c *ExportConfig) { c.LogLevel = "loud" },
		"name":  func(c *ExportConfig) { c.Calibration.Name = " " },
		"shape": func(c *ExportConfig) { c.Calibration.Shape = []int{1, 0, 8} },
		"dtype": func(c *ExportConfig) { c.Calibration.DType = "bool" },
	}
	for name, mutate := range cases {
		cfg := base
		cfg.Calibration.Shape = append([]int(nil), base.Calibration.Shape...)
		mutate(&cfg)
		if err := ValidateExportConfig(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
