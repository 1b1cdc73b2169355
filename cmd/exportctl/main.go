package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/logging"
	"github.com/danmuck/edgeexport/internal/observability"
	"github.com/danmuck/edgeexport/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("exportctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "traced program to convert (.etm)")
	output := fs.String("output", "", "destination edge artifact (.pte)")
	configPath := fs.String("config", "", "optional TOML config")
	logLevel := fs.String("log-level", "", "log level: trace|debug|info|warn|error|off")
	metricsFile := fs.String("metrics-file", "", "write stage metrics in text exposition format")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logging.ConfigureRuntime()

	if strings.TrimSpace(*input) == "" || strings.TrimSpace(*output) == "" {
		fmt.Fprintln(stderr, "exportctl: -input and -output are required")
		fs.Usage()
		return 2
	}

	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		loaded, level, err := loadConverterConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "exportctl: %v\n", err)
			return 1
		}
		cfg = loaded
		if level != "" && !logging.SetLevel(level) {
			fmt.Fprintf(stderr, "exportctl: unknown log_level %q in %s\n", level, *configPath)
			return 1
		}
	}
	if *logLevel != "" && !logging.SetLevel(*logLevel) {
		fmt.Fprintf(stderr, "exportctl: unknown -log-level %q\n", *logLevel)
		return 2
	}

	res, err := pipeline.NewConverterWithConfig(cfg).Run(ctx, *input, *output)
	if *metricsFile != "" {
		if merr := observability.WriteTextfile(*metricsFile); merr != nil {
			fmt.Fprintf(stderr, "exportctl: write metrics: %v\n", merr)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Conversion failed (%s after %s): %v\n", failureKind(err), res.State, err)
		return 1
	}
	fmt.Fprintf(stdout, "Converted %s -> %s (%d bytes, program %s, ops %s)\n",
		res.Input, res.Output, res.Bytes, res.ProgramID, strings.Join(res.Operators, ","))
	return 0
}

func failureKind(err error) string {
	if kind, ok := convert.KindOf(err); ok {
		return kind.String()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
