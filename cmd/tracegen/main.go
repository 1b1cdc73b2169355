package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/edgeexport/internal/logging"
	"github.com/danmuck/edgeexport/internal/samples"
	"github.com/danmuck/edgeexport/internal/trace"
	"github.com/rs/zerolog/log"
)

func main() {
	sample := flag.String("sample", "conv-relu", "sample to write: "+strings.Join(samples.Names(), "|")+"|all")
	output := flag.String("output", "", "output file, or directory when -sample=all")
	seed := flag.Uint64("seed", 42, "weight generator seed")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logging.ConfigureRuntime()
	if !logging.SetLevel(*logLevel) {
		fmt.Fprintf(os.Stderr, "tracegen: unknown log level %q\n", *logLevel)
		os.Exit(2)
	}

	names := []string{*sample}
	if *sample == "all" {
		names = samples.Names()
	}
	for _, name := range names {
		target := *output
		switch {
		case *sample == "all":
			target = filepath.Join(*output, name+".etm")
		case target == "":
			target = name + ".etm"
		}
		if err := write(name, *seed, target); err != nil {
			fmt.Fprintf(os.Stderr, "tracegen: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s sample to %s\n", name, target)
	}
}

func write(name string, seed uint64, path string) error {
	m, err := samples.Build(name, seed)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := trace.Save(path, m); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Debug().Str("sample", name).Uint64("seed", seed).Str("path", path).Msg("tracegen.write")
	return nil
}
