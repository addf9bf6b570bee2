// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/natefinch/atomic"
	"github.com/otiai10/copy"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/phmap"
)

// cli runs commands against a map directory of one key and value type.
type cli[K phmap.Key, V phmap.Value] struct {
	cfg    config
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newCLI[K phmap.Key, V phmap.Value](cfg config, in io.Reader, out, errOut io.Writer) *cli[K, V] {
	return &cli[K, V]{cfg: cfg, in: in, out: out, errOut: errOut}
}

func (c *cli[K, V]) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "create":
		return c.create(args)
	case "load":
		return c.load(args)
	case "watch":
		return c.watch(ctx, args)
	case "get":
		return c.get(args)
	case "put":
		return c.put(args)
	case "del", "delete":
		return c.del(args)
	case "dump":
		return c.dump(args)
	case "stats":
		return c.stats(args)
	case "verify":
		return c.verify(args)
	case "export":
		return c.export(args)
	case "backup":
		return c.backup(args)
	case "bench":
		return c.bench(ctx, args)
	case "repl":
		return c.repl()
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// flagSet is a subcommand's flags.
type flagSet struct {
	*flag.FlagSet
	name string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return &flagSet{FlagSet: fs, name: name}
}

// parseFlags parses args and checks that between minArgs and maxArgs
// positional arguments remain.  A negative maxArgs means no limit.
func parseFlags(fs *flagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %w", errUsage, fs.name, err)
	}
	if n := fs.NArg(); n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		return fmt.Errorf("%w: %s: wrong number of arguments", errUsage, fs.name)
	}
	return nil
}

func (c *cli[K, V]) openEnv(extra ...phmap.Option) (*phmap.Env[K, V], error) {
	opts, err := c.cfg.options()
	if err != nil {
		return nil, err
	}
	return phmap.Open[K, V](c.cfg.Dir, append(opts, extra...)...)
}

func (c *cli[K, V]) openReadOnly(extra ...phmap.Option) (*phmap.ReadOnlyEnv[K, V], error) {
	opts, err := c.cfg.options()
	if err != nil {
		return nil, err
	}
	return phmap.OpenReadOnly[K, V](c.cfg.Dir, append(opts, extra...)...)
}

// withCurrent runs fn on the currently published map.
func (c *cli[K, V]) withCurrent(fn func(m *phmap.Table[K, V]) error) error {
	env, err := c.openReadOnly()
	if err != nil {
		return err
	}
	defer env.Close()
	m, err := env.CurrentMap()
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func (c *cli[K, V]) create(args []string) error {
	if err := parseFlags(newFlagSet("create"), args, 0, 0); err != nil {
		return err
	}
	env, err := c.openEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	w, err := env.OpenMap()
	if err != nil {
		return err
	}
	defer w.Close()
	fmt.Fprintf(c.out, "%s version=%d maxEntries=%d capacity=%d\n",
		c.cfg.Dir, w.Version(), w.MaxEntries(), w.Capacity())
	return nil
}

func (c *cli[K, V]) load(args []string) error {
	fs := newFlagSet("load")
	merge := fs.Bool("merge", false, "apply on top of the current map")
	if err := parseFlags(fs, args, 0, 1); err != nil {
		return err
	}
	r := c.in
	if path := fs.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return c.apply(r, *merge)
}

// apply publishes the records of r as a new version.
func (c *cli[K, V]) apply(r io.Reader, merge bool) error {
	env, err := c.openEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	b := phmap.NewBuilder(env)
	var res phmap.LoadResult
	if merge {
		res, err = b.Merge(r)
	} else {
		res, err = b.Replace(r)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "version=%d rows=%d puts=%d removes=%d\n", res.Version, res.Rows, res.Puts, res.Removes)
	return nil
}

func (c *cli[K, V]) watch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch")
	interval := fs.Duration("interval", time.Second, "poll interval")
	scatter := fs.Duration("scatter", 0, "random delay before the first poll")
	if err := parseFlags(fs, args, 1, 1); err != nil {
		return err
	}
	if *interval <= 0 {
		return fmt.Errorf("%w: watch: interval must be positive", errUsage)
	}
	env, err := c.openEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	return phmap.NewUpdater(env, fs.Arg(0), *interval, *scatter).Run(ctx)
}

func (c *cli[K, V]) get(args []string) error {
	fs := newFlagSet("get")
	if err := parseFlags(fs, args, 1, -1); err != nil {
		return err
	}
	keys := make([]K, 0, fs.NArg())
	for _, arg := range fs.Args() {
		k, err := parseKey[K](arg)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	missing := 0
	err := c.withCurrent(func(m *phmap.Table[K, V]) error {
		for _, k := range keys {
			v, ok, err := m.Get(k)
			if err != nil {
				return err
			}
			if !ok {
				missing++
				fmt.Fprintf(c.errOut, "%v: not found\n", k)
				continue
			}
			fmt.Fprintf(c.out, "%v=%v\n", k, v)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d keys not found", missing, len(keys))
	}
	return nil
}

func (c *cli[K, V]) put(args []string) error {
	fs := newFlagSet("put")
	if err := parseFlags(fs, args, 1, -1); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, arg := range fs.Args() {
		k, v, err := parsePair[K, V](arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "%v=%v\n", k, v)
	}
	return c.apply(&buf, true)
}

func (c *cli[K, V]) del(args []string) error {
	fs := newFlagSet("del")
	if err := parseFlags(fs, args, 1, -1); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, arg := range fs.Args() {
		k, err := parseKey[K](arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(&buf, "%v=\n", k)
	}
	return c.apply(&buf, true)
}

func (c *cli[K, V]) dump(args []string) error {
	fs := newFlagSet("dump")
	content := fs.Bool("content", false, "print every bucket")
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	return c.withCurrent(func(m *phmap.Table[K, V]) error {
		s, err := m.Dump(*content)
		if err != nil {
			return err
		}
		_, err = io.WriteString(c.out, s)
		return err
	})
}

func (c *cli[K, V]) stats(args []string) error {
	if err := parseFlags(newFlagSet("stats"), args, 0, 0); err != nil {
		return err
	}
	return c.withCurrent(func(m *phmap.Table[K, V]) error {
		return c.printStats(m)
	})
}

func (c *cli[K, V]) printStats(m *phmap.Table[K, V]) error {
	size, err := m.Size()
	if err != nil {
		return err
	}
	tombstones, err := m.Tombstones()
	if err != nil {
		return err
	}
	bookmarks, err := m.LoadAllBookmarks()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "version=%d\n", m.Version())
	fmt.Fprintf(c.out, "file=%s\n", m.Name())
	fmt.Fprintf(c.out, "size=%d\n", size)
	fmt.Fprintf(c.out, "tombstones=%d\n", tombstones)
	fmt.Fprintf(c.out, "maxEntries=%d\n", m.MaxEntries())
	fmt.Fprintf(c.out, "capacity=%d\n", m.Capacity())
	fmt.Fprintf(c.out, "load=%.3f\n", float64(size+tombstones)/float64(m.Capacity()))
	fmt.Fprintf(c.out, "hasher=%s\n", hasherName(c.cfg.KeyType, m.HasherSerial()))
	for i, b := range bookmarks {
		if b != 0 {
			fmt.Fprintf(c.out, "bookmark[%d]=%d\n", i, b)
		}
	}
	return nil
}

func (c *cli[K, V]) verify(args []string) error {
	if err := parseFlags(newFlagSet("verify"), args, 0, 0); err != nil {
		return err
	}
	return c.withCurrent(func(m *phmap.Table[K, V]) error {
		if err := m.Verify(); err != nil {
			return err
		}
		size, err := m.Size()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "ok version=%d size=%d\n", m.Version(), size)
		return nil
	})
}

// export writes the current map in the format load reads.
func (c *cli[K, V]) export(args []string) error {
	fs := newFlagSet("export")
	if err := parseFlags(fs, args, 0, 1); err != nil {
		return err
	}
	var buf bytes.Buffer
	err := c.withCurrent(func(m *phmap.Table[K, V]) error {
		entries := make(map[K]V)
		it := m.Iter()
		for it.Next() {
			entries[it.Key()] = it.Value()
		}
		if err := it.Err(); err != nil {
			return err
		}
		keys := make([]K, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		fmt.Fprintf(&buf, "# rows=%d version=%d\n", len(keys), m.Version())
		for _, k := range keys {
			fmt.Fprintf(&buf, "%v=%v\n", k, entries[k])
		}
		return nil
	})
	if err != nil {
		return err
	}
	if path := fs.Arg(0); path != "" && path != "-" {
		return atomic.WriteFile(path, &buf)
	}
	_, err = buf.WriteTo(c.out)
	return err
}

// backup copies the current version into dst.  It holds the write lock
// while copying so that no commit can replace the file underneath it.
func (c *cli[K, V]) backup(args []string) error {
	fs := newFlagSet("backup")
	if err := parseFlags(fs, args, 1, 1); err != nil {
		return err
	}
	dst := fs.Arg(0)
	if filepath.Clean(dst) == filepath.Clean(c.cfg.Dir) {
		return fmt.Errorf("%w: backup: destination is the map directory", errUsage)
	}
	if _, err := os.Stat(filepath.Join(c.cfg.Dir, phmap.VersionFilename)); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dst, phmap.VersionFilename)); err == nil {
		return fmt.Errorf("backup: %s already holds a map", dst)
	}
	env, err := c.openEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	w, err := env.OpenMap()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Flush(); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	// the version file goes last, a partial backup has no current map
	for _, name := range []string{w.Name(), phmap.VersionFilename} {
		if err := copy.Copy(filepath.Join(c.cfg.Dir, name), filepath.Join(dst, name)); err != nil {
			return fmt.Errorf("backup %s: %w", name, err)
		}
	}
	fmt.Fprintf(c.out, "backed up version %d to %s\n", w.Version(), dst)
	return nil
}

const maxBenchKeys = 1 << 16

func (c *cli[K, V]) bench(ctx context.Context, args []string) error {
	fs := newFlagSet("bench")
	readers := fs.Int("readers", runtime.GOMAXPROCS(0), "concurrent readers")
	lookups := fs.Int("lookups", 1_000_000, "lookups per reader")
	missRate := fs.Float64("miss-rate", 0, "fraction of lookups for random keys")
	if err := parseFlags(fs, args, 0, 0); err != nil {
		return err
	}
	if *readers <= 0 || *lookups <= 0 || *missRate < 0 || *missRate > 1 {
		return fmt.Errorf("%w: bench: invalid flags", errUsage)
	}

	env, err := c.openReadOnly(phmap.WithStats(true))
	if err != nil {
		return err
	}
	defer env.Close()

	keys, err := sampleKeys(env)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		*missRate = 1
	}

	counts := make([]int64, *readers)
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *readers; i++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(i) + 1))
			var m *phmap.Table[K, V]
			defer func() {
				if m != nil {
					_ = m.Close()
				}
			}()
			for n := 0; n < *lookups; n++ {
				// pick up newly committed versions now and then
				if n%4096 == 0 {
					if ctx.Err() != nil {
						return nil
					}
					cur, err := env.CurrentMap()
					if err != nil {
						return err
					}
					if m != nil {
						_ = m.Close()
					}
					m = cur
				}
				var k K
				if rng.Float64() < *missRate {
					k = K(rng.Int63())
				} else {
					k = keys[rng.Intn(len(keys))]
				}
				if _, _, err := m.Get(k); err != nil {
					return err
				}
				counts[i]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var n int64
	for _, count := range counts {
		n += count
	}
	fmt.Fprintf(c.out, "readers=%d lookups=%d elapsed=%v ns/op=%.1f\n",
		*readers, n, elapsed.Round(time.Millisecond), float64(elapsed.Nanoseconds())/float64(max(n, 1)))
	m, err := env.CurrentMap()
	if err != nil {
		return err
	}
	defer m.Close()
	fmt.Fprintln(c.out, m.Stats())
	return nil
}

func sampleKeys[K phmap.Key, V phmap.Value](env *phmap.ReadOnlyEnv[K, V]) ([]K, error) {
	m, err := env.CurrentMap()
	if err != nil {
		return nil, err
	}
	defer m.Close()
	var keys []K
	it := m.Iter()
	for len(keys) < maxBenchKeys && it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, it.Err()
}
