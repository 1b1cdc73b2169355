package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgeexport/internal/pipeline"
	"github.com/danmuck/edgeexport/internal/tensor"
)

type fileConfig struct {
	LogLevel    string                `toml:"log_level"`
	Calibration calibrationFileConfig `toml:"calibration"`
	Lowering    loweringFileConfig    `toml:"lowering"`
	Output      outputFileConfig      `toml:"output"`
}

type calibrationFileConfig struct {
	Name  string `toml:"name"`
	Shape []int  `toml:"shape"`
	DType string `toml:"dtype"`
	Seed  uint64 `toml:"seed"`
}

type loweringFileConfig struct {
	FoldBatchNorm bool `toml:"fold_batch_norm"`
}

type outputFileConfig struct {
	Overwrite bool `toml:"overwrite"`
}

// loadConverterConfig overlays the keys present in path onto the converter defaults.
// The returned log level is empty when the file does not set one.
func loadConverterConfig(path string) (pipeline.Config, string, error) {
	cfg := pipeline.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return pipeline.Config{}, "", fmt.Errorf("load exportctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return pipeline.Config{}, "", fmt.Errorf("load exportctl config: unknown keys %v", undecoded)
	}

	var logLevel string
	if meta.IsDefined("log_level") {
		logLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("calibration", "name") {
		if name := strings.TrimSpace(raw.Calibration.Name); name != "" {
			cfg.Calibration.Name = name
		}
	}
	if meta.IsDefined("calibration", "shape") {
		shape := tensor.Shape(raw.Calibration.Shape)
		if shape.Rank() == 0 || !shape.Valid() {
			return pipeline.Config{}, "", fmt.Errorf("parse calibration.shape: %v is not a concrete shape", raw.Calibration.Shape)
		}
		cfg.Calibration.Shape = shape.Clone()
	}
	if meta.IsDefined("calibration", "dtype") {
		dt, err := tensor.ParseDType(raw.Calibration.DType)
		if err != nil {
			return pipeline.Config{}, "", fmt.Errorf("parse calibration.dtype: %w", err)
		}
		cfg.Calibration.DType = dt
	}
	if meta.IsDefined("calibration", "seed") {
		cfg.Calibration.Seed = raw.Calibration.Seed
	}

	if meta.IsDefined("lowering", "fold_batch_norm") {
		cfg.Lowering.FoldBatchNorm = raw.Lowering.FoldBatchNorm
	}

	if meta.IsDefined("output", "overwrite") {
		cfg.Overwrite = raw.Output.Overwrite
	}

	return cfg, logLevel, nil
}
