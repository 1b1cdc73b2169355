package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/edge"
	"github.com/danmuck/edgeexport/internal/logging"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/trace"
	"github.com/danmuck/edgeexport/internal/verify"
)

func main() {
	model := flag.String("model", "", "traced program the artifact was exported from (.etm)")
	artifact := flag.String("artifact", "", "edge artifact to check (.pte)")
	imagePath := flag.String("image", "", "optional image input; synthetic input when empty")
	tolerance := flag.Float64("tolerance", verify.DefaultTolerance, "max absolute difference allowed")
	seed := flag.Uint64("seed", 1, "seed for the synthetic input")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logging.ConfigureRuntime()
	if !logging.SetLevel(*logLevel) {
		fail(2, "unknown log level %q", *logLevel)
	}
	if *model == "" || *artifact == "" {
		flag.Usage()
		fail(2, "-model and -artifact are required")
	}

	m, err := trace.Load(*model)
	if err != nil {
		fail(1, "%v", err)
	}
	buf, err := os.ReadFile(*artifact)
	if err != nil {
		fail(1, "read artifact: %v", err)
	}
	p, err := edge.Decode(buf)
	if err != nil {
		fail(1, "decode artifact %s: %v", *artifact, err)
	}
	if len(p.Inputs) != 1 {
		fail(1, "artifact takes %d inputs, verifyctl feeds one", len(p.Inputs))
	}

	in := p.Values[p.Inputs[0]]
	cal := capture.Calibration{Name: in.Name, Shape: in.Shape, DType: in.DType, Seed: *seed}
	var x *tensor.Tensor
	if *imagePath != "" {
		if x, err = verify.LoadImage(*imagePath, cal); err != nil {
			fail(1, "%v", err)
		}
	} else {
		if err := cal.Validate(); err != nil {
			fail(1, "%v", err)
		}
		x = cal.Input()
	}

	rep, err := verify.Compare(m, p, x, *tolerance)
	if err != nil {
		fail(1, "%v", err)
	}
	fmt.Println(rep)
	if !rep.Passed() {
		os.Exit(1)
	}
}

func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "verifyctl: "+format+"\n", args...)
	os.Exit(code)
}
