// Package pipeline runs the conversion stages in order: load, capture, lower, encode
// and write. The first failure stops the run and is returned with its stage attached.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/edge"
	"github.com/danmuck/edgeexport/internal/lower"
	"github.com/danmuck/edgeexport/internal/observability"
	"github.com/danmuck/edgeexport/internal/trace"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is how far a run progressed. Runs only move forward.
type State uint8

const (
	StateIdle State = iota
	StateLoaded
	StateCaptured
	StateLowered
	StateSerialized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateCaptured:
		return "captured"
	case StateLowered:
		return "lowered"
	case StateSerialized:
		return "serialized"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Stage names used in errors, logs and metrics.
const (
	StageLoad    = "load"
	StageCapture = "capture"
	StageLower   = "lower"
	StageEncode  = "encode"
	StageWrite   = "write"
)

// Converter configuration.
type Config struct {
	Calibration capture.Calibration
	Lowering    lower.Options
	Overwrite   bool
}

func DefaultConfig() Config {
	return Config{
		Calibration: capture.DefaultCalibration(),
		Lowering:    lower.DefaultOptions(),
		Overwrite:   true,
	}
}

// Result describes one finished run. State is the furthest state reached, so a
// failed run still reports how far it got.
type Result struct {
	Input     string
	Output    string
	Program   string
	State     State
	Bytes     int
	Operators []string
	ProgramID uuid.UUID
	Elapsed   time.Duration
}

type Converter struct {
	cfg      Config
	loader   Loader
	capturer Capturer
	lowerer  Lowerer
	encoder  Encoder
	writer   Writer
}

// Converter constructor using default configuration.
func NewConverter() *Converter {
	return NewConverterWithConfig(DefaultConfig())
}

// Converter constructor using explicit configuration and the default stages.
func NewConverterWithConfig(cfg Config) *Converter {
	return &Converter{
		cfg:      cfg,
		loader:   TraceLoader{},
		capturer: StaticCapturer{},
		lowerer:  EdgeLowerer{},
		encoder:  EdgeEncoder{},
		writer:   AtomicWriter{Overwrite: cfg.Overwrite},
	}
}

func (c *Converter) Config() Config { return c.cfg }

func (c *Converter) SetLoader(l Loader)     { c.loader = l }
func (c *Converter) SetCapturer(p Capturer) { c.capturer = p }
func (c *Converter) SetLowerer(l Lowerer)   { c.lowerer = l }
func (c *Converter) SetEncoder(e Encoder)   { c.encoder = e }
func (c *Converter) SetWriter(w Writer)     { c.writer = w }

// run tracks the state machine for one Run call.
type run struct {
	res Result
}

func (r *run) advance(next State) {
	if next != r.res.State+1 {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.res.State, next))
	}
	r.res.State = next
}

// stage times fn, records its metrics and annotates its error.
func stage(ctx context.Context, name string, kind convert.Kind, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline: %s not started: %w", name, err)
	}
	log.Debug().Str("stage", name).Msg("pipeline.Run stage start")
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	observability.RecordStage(name, elapsed, err)
	if err != nil {
		err = convert.WithStage(err, name, kind)
		log.Error().Err(err).Str("stage", name).Dur("elapsed", elapsed).Msg("pipeline.Run stage failed")
		return err
	}
	log.Info().Str("stage", name).Dur("elapsed", elapsed).Msg("pipeline.Run stage done")
	return nil
}

// Run converts the traced program at input into an edge artifact at output.
func (c *Converter) Run(ctx context.Context, input, output string) (Result, error) {
	r := &run{res: Result{Input: input, Output: output}}
	start := time.Now()
	err := c.run(ctx, r)
	r.res.Elapsed = time.Since(start)
	observability.RecordConversion(err)
	if err != nil {
		return r.res, err
	}
	observability.RecordArtifact(r.res.Program, r.res.Bytes)
	log.Info().
		Str("input", input).
		Str("output", output).
		Str("state", r.res.State.String()).
		Int("bytes", r.res.Bytes).
		Str("program_id", r.res.ProgramID.String()).
		Dur("elapsed", r.res.Elapsed).
		Msg("pipeline.Run converted")
	return r.res, nil
}

func (c *Converter) run(ctx context.Context, r *run) error {
	var (
		module   *trace.Module
		program  *capture.Program
		lowered  *edge.Program
		artifact []byte
	)
	if err := stage(ctx, StageLoad, convert.KindLoad, func() (err error) {
		module, err = c.loader.Load(r.res.Input)
		if err == nil && module == nil {
			err = convert.LoadError(r.res.Input, nil, "loader returned no module")
		}
		return err
	}); err != nil {
		return err
	}
	r.advance(StateLoaded)

	if err := stage(ctx, StageCapture, convert.KindCapture, func() (err error) {
		program, err = c.capturer.Capture(module, c.cfg.Calibration)
		if err == nil && program == nil {
			err = convert.CaptureError(nil, "capturer returned no program")
		}
		return err
	}); err != nil {
		return err
	}
	r.advance(StateCaptured)

	if err := stage(ctx, StageLower, convert.KindLowering, func() (err error) {
		lowered, err = c.lowerer.Lower(program, c.cfg.Lowering)
		if err == nil && lowered == nil {
			err = convert.LoweringError(nil, "lowerer returned no program")
		}
		return err
	}); err != nil {
		return err
	}
	r.advance(StateLowered)
	r.res.Program = lowered.Name
	r.res.Operators = lowered.OperatorSequence()

	if err := stage(ctx, StageEncode, convert.KindSerialization, func() (err error) {
		artifact, err = c.encoder.Encode(lowered)
		if err == nil && len(artifact) == 0 {
			err = convert.SerializationError(nil, "encoder produced an empty artifact")
		}
		return err
	}); err != nil {
		return err
	}
	if id, err := edge.ProgramID(artifact); err == nil {
		r.res.ProgramID = id
	}

	existed := exists(r.res.Output)
	if err := stage(ctx, StageWrite, convert.KindWrite, func() error {
		return c.writer.Write(r.res.Output, artifact)
	}); err != nil {
		if !existed {
			removePartial(r.res.Output)
		}
		return err
	}
	r.res.Bytes = len(artifact)
	r.advance(StateSerialized)
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// removePartial deletes whatever a failed writer left at path.
func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("pipeline.Run cleanup failed")
	}
}
