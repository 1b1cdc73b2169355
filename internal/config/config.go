// Package config owns the exportctl file format: the TOML schema, strict validation
// and template generation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/edgeexport/internal/logging"
	"github.com/danmuck/edgeexport/internal/pipeline"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/pelletier/go-toml/v2"
)

type ExportConfig struct {
	LogLevel    string            `toml:"log_level"`
	Calibration CalibrationConfig `toml:"calibration"`
	Lowering    LoweringConfig    `toml:"lowering"`
	Output      OutputConfig      `toml:"output"`
}

type CalibrationConfig struct {
	Name  string `toml:"name"`
	Shape []int  `toml:"shape"`
	DType string `toml:"dtype"`
	Seed  uint64 `toml:"seed"`
}

type LoweringConfig struct {
	FoldBatchNorm bool `toml:"fold_batch_norm"`
}

type OutputConfig struct {
	Overwrite bool `toml:"overwrite"`
}

// FromPipeline renders a converter configuration in file form.
func FromPipeline(cfg pipeline.Config, logLevel string) ExportConfig {
	return ExportConfig{
		LogLevel: logLevel,
		Calibration: CalibrationConfig{
			Name:  cfg.Calibration.Name,
			Shape: append([]int(nil), cfg.Calibration.Shape...),
			DType: cfg.Calibration.DType.String(),
			Seed:  cfg.Calibration.Seed,
		},
		Lowering: LoweringConfig{FoldBatchNorm: cfg.Lowering.FoldBatchNorm},
		Output:   OutputConfig{Overwrite: cfg.Overwrite},
	}
}

// LoadExportConfig strictly decodes path: unknown keys are errors.
func LoadExportConfig(path string) (ExportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExportConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg := FromPipeline(pipeline.DefaultConfig(), "info")
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return ExportConfig{}, fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return ExportConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateExportConfig(cfg); err != nil {
		return ExportConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func ValidateExportConfig(cfg ExportConfig) error {
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	if strings.TrimSpace(cfg.Calibration.Name) == "" {
		return fmt.Errorf("calibration.name is required")
	}
	shape := tensor.Shape(cfg.Calibration.Shape)
	if shape.Rank() == 0 || !shape.Valid() {
		return fmt.Errorf("calibration.shape %v must list positive dimensions", cfg.Calibration.Shape)
	}
	dt, err := tensor.ParseDType(cfg.Calibration.DType)
	if err != nil {
		return fmt.Errorf("calibration.dtype: %w", err)
	}
	if dt != tensor.Float32 {
		return fmt.Errorf("calibration.dtype %s is not supported, want float32", dt)
	}
	return nil
}
