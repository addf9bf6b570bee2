// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// phmap inspects and maintains persistent hash map directories.
//
// Usage:
//
//	phmap [global flags] <command> [args]
//
// Global flags:
//
//	-d, --dir              Map directory (required)
//	-c, --config           JSONC config file
//	    --key              Key type: int32, int64 (default int32)
//	    --value            Value type: int16, int32, int64, float32, float64 (default float32)
//	    --hasher           Key hasher for new maps, by name
//	    --initial-entries  Capacity of a new directory's first map
//	    --load-factor      Target load factor of new maps
//	    --stats            Collect lookup statistics
//	-v, --verbose          Debug logging
//
// Commands:
//
//	create                  Create the directory if missing
//	load [--merge] [FILE]   Publish the records of FILE (or stdin)
//	watch FILE              Republish FILE whenever it changes
//	get KEY...              Print values
//	put KEY=VALUE...        Publish new values
//	del KEY...              Publish removals
//	dump [--content]        Print the bucket layout
//	stats                   Print map statistics
//	verify                  Check the current map for corruption
//	export [FILE]           Write every record, sorted by key
//	backup DST              Copy the current version into DST
//	bench                   Measure concurrent lookups
//	repl                    Interactive shell
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/bpowers/phmap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stdin io.Reader, out, errOut io.Writer, args []string) int {
	cfg, rest, err := parseGlobal(errOut, args)
	if errors.Is(err, flag.ErrHelp) {
		printUsage(out)
		return 0
	} else if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 2
	}
	if len(rest) == 0 || cfg.Dir == "" {
		printUsage(errOut)
		return 2
	}

	if err := dispatch(ctx, cfg, stdin, out, errOut, rest[0], rest[1:]); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

type globalFlags struct {
	config  string
	verbose bool
}

func parseGlobal(errOut io.Writer, args []string) (cfg config, rest []string, err error) {
	fs := flag.NewFlagSet("phmap", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)

	var g globalFlags
	cfg = defaultConfig()
	fs.StringVarP(&g.config, "config", "c", "", "JSONC config file")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	dir := fs.StringP("dir", "d", "", "map directory")
	key := fs.String("key", cfg.KeyType, "key type")
	value := fs.String("value", cfg.ValueType, "value type")
	hasherFlag := fs.String("hasher", "", "key hasher for new maps")
	initial := fs.Int("initial-entries", cfg.InitialEntries, "capacity of a new directory's first map")
	loadFactor := fs.Float64("load-factor", cfg.LoadFactor, "target load factor of new maps")
	stats := fs.Bool("stats", false, "collect lookup statistics")
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	if g.config != "" {
		if err := loadConfigFile(g.config, &cfg); err != nil {
			return cfg, nil, err
		}
	}
	if fs.Changed("dir") {
		cfg.Dir = *dir
	}
	if fs.Changed("key") {
		cfg.KeyType = *key
	}
	if fs.Changed("value") {
		cfg.ValueType = *value
	}
	if fs.Changed("hasher") {
		cfg.Hasher = *hasherFlag
	}
	if fs.Changed("initial-entries") {
		cfg.InitialEntries = *initial
	}
	if fs.Changed("load-factor") {
		cfg.LoadFactor = *loadFactor
	}
	if fs.Changed("stats") {
		cfg.Stats = *stats
	}

	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	cfg.log = slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	return cfg, fs.Args(), nil
}

// dispatch instantiates the command runner for the configured key and
// value types.
func dispatch(ctx context.Context, cfg config, stdin io.Reader, out, errOut io.Writer, cmd string, args []string) error {
	switch cfg.KeyType {
	case "int32":
		return dispatchValue[int32](ctx, cfg, stdin, out, errOut, cmd, args)
	case "int64":
		return dispatchValue[int64](ctx, cfg, stdin, out, errOut, cmd, args)
	default:
		return fmt.Errorf("%w: key %q", errUnknownType, cfg.KeyType)
	}
}

func dispatchValue[K phmap.Key](ctx context.Context, cfg config, stdin io.Reader, out, errOut io.Writer, cmd string, args []string) error {
	switch cfg.ValueType {
	case "int16":
		return newCLI[K, int16](cfg, stdin, out, errOut).run(ctx, cmd, args)
	case "int32":
		return newCLI[K, int32](cfg, stdin, out, errOut).run(ctx, cmd, args)
	case "int64":
		return newCLI[K, int64](cfg, stdin, out, errOut).run(ctx, cmd, args)
	case "float32":
		return newCLI[K, float32](cfg, stdin, out, errOut).run(ctx, cmd, args)
	case "float64":
		return newCLI[K, float64](cfg, stdin, out, errOut).run(ctx, cmd, args)
	default:
		return fmt.Errorf("%w: value %q", errUnknownType, cfg.ValueType)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: phmap -d DIR [global flags] <command> [args]

Commands:
  create                  create the directory if missing
  load [--merge] [FILE]   publish the records of FILE (or stdin)
  watch FILE              republish FILE whenever it changes
  get KEY...              print values
  put KEY=VALUE...        publish new values
  del KEY...              publish removals
  dump [--content]        print the bucket layout
  stats                   print map statistics
  verify                  check the current map for corruption
  export [FILE]           write every record, sorted by key
  backup DST              copy the current version into DST
  bench                   measure concurrent lookups
  repl                    interactive shell

Global flags:
  -d, --dir DIR              map directory
  -c, --config FILE          JSONC config file
      --key TYPE             int32 or int64 (default int32)
      --value TYPE           int16, int32, int64, float32 or float64 (default float32)
      --hasher NAME          key hasher for new maps
      --initial-entries N    capacity of a new directory's first map
      --load-factor F        target load factor of new maps
      --stats                collect lookup statistics
  -v, --verbose              debug logging
`)
}
