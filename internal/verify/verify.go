// Package verify checks an edge artifact against the traced program it came from by
// running both on the same input.
package verify

import (
	"fmt"
	"math"

	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/edge"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/trace"
	"github.com/rs/zerolog/log"
)

const DefaultTolerance = 1e-4

// Report is the outcome of one comparison. MaxAbsDiff covers every output.
type Report struct {
	Program    string
	Outputs    int
	MaxAbsDiff float64
	Tolerance  float64
}

func (r Report) Passed() bool {
	return !math.IsNaN(r.MaxAbsDiff) && r.MaxAbsDiff <= r.Tolerance
}

func (r Report) String() string {
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	return fmt.Sprintf("%s program=%s outputs=%d max_abs_diff=%g tolerance=%g", status, r.Program, r.Outputs, r.MaxAbsDiff, r.Tolerance)
}

// Compare evaluates m directly and p on the edge runtime with the same input.
func Compare(m *trace.Module, p *edge.Program, input *tensor.Tensor, tol float64) (Report, error) {
	rep := Report{Program: p.Name, Tolerance: tol}
	want, err := capture.Run(m.Eval(), input)
	if err != nil {
		return rep, fmt.Errorf("verify: evaluate traced program: %w", err)
	}
	got, err := edge.Execute(p, input)
	if err != nil {
		return rep, fmt.Errorf("verify: execute edge program: %w", err)
	}
	if len(want) != len(got) {
		return rep, fmt.Errorf("verify: traced program has %d outputs, edge program %d", len(want), len(got))
	}
	rep.Outputs = len(want)
	for i := range want {
		d, err := tensor.MaxAbsDiff(want[i], got[i])
		if err != nil {
			return rep, fmt.Errorf("verify: output %d: %w", i, err)
		}
		rep.MaxAbsDiff = math.Max(rep.MaxAbsDiff, d)
	}
	log.Info().
		Str("program", rep.Program).
		Float64("max_abs_diff", rep.MaxAbsDiff).
		Bool("passed", rep.Passed()).
		Msg("verify.Compare")
	return rep, nil
}
