// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/bpowers/phmap"
)

var replCommands = []string{
	"get", "has", "put", "del", "size", "version", "stats",
	"dump", "verify", "compact", "bookmark", "help", "exit",
}

// shell edits the current version in place.  Puts that overflow it
// publish a larger copy first.
type shell[K phmap.Key, V phmap.Value] struct {
	c   *cli[K, V]
	env *phmap.Env[K, V]
	w   *phmap.Writer[K, V]
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".phmap_history")
}

func (c *cli[K, V]) repl() error {
	sh, err := c.newShell()
	if err != nil {
		return err
	}
	defer sh.close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)
	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if path := historyFile(); path != "" {
			if f, err := os.Create(path); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}
	}()

	fmt.Fprintf(c.out, "phmap %s (%s -> %s, version %d)\n", c.cfg.Dir, c.cfg.KeyType, c.cfg.ValueType, sh.w.Version())
	fmt.Fprintln(c.out, "Type 'help' for available commands.")
	for {
		input, err := line.Prompt("phmap> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(c.out)
			return nil
		} else if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if sh.exec(input) {
			return nil
		}
	}
}

func completeCommand(line string) []string {
	var out []string
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, strings.ToLower(line)) {
			out = append(out, cmd)
		}
	}
	return out
}

func (c *cli[K, V]) newShell() (*shell[K, V], error) {
	env, err := c.openEnv()
	if err != nil {
		return nil, err
	}
	w, err := env.OpenMap()
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	return &shell[K, V]{c: c, env: env, w: w}, nil
}

func (sh *shell[K, V]) close() {
	_ = sh.w.Close()
	_ = sh.env.Close()
}

// exec runs one command line and reports whether the shell should exit.
// Errors are printed, not returned.
func (sh *shell[K, V]) exec(input string) bool {
	fields := strings.Fields(input)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	var err error
	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		sh.help()
	case "get":
		err = sh.get(args, true)
	case "has":
		err = sh.get(args, false)
	case "put":
		err = sh.put(args)
	case "del", "delete":
		err = sh.del(args)
	case "size":
		err = sh.size()
	case "version":
		fmt.Fprintf(sh.c.out, "%d\n", sh.w.Version())
	case "stats":
		err = sh.c.printStats(sh.w.Table)
	case "dump":
		var s string
		if s, err = sh.w.Dump(len(args) > 0 && args[0] == "content"); err == nil {
			_, err = io.WriteString(sh.c.out, s)
		}
	case "verify":
		if err = sh.w.Verify(); err == nil {
			fmt.Fprintln(sh.c.out, "ok")
		}
	case "compact":
		err = sh.republish()
	case "bookmark":
		err = sh.bookmark(args)
	default:
		fmt.Fprintf(sh.c.out, "unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(sh.c.out, "error: %v\n", err)
	}
	return false
}

func (sh *shell[K, V]) help() {
	fmt.Fprint(sh.c.out, `Commands:
  get KEY...              print values
  has KEY...              report whether keys are present
  put KEY=VALUE...        set values (also: put KEY VALUE)
  del KEY...              remove keys
  size                    print entry and tombstone counts
  version                 print the version being edited
  stats                   print map statistics
  dump [content]          print the bucket layout
  verify                  check the map for corruption
  compact                 publish a fresh copy without tombstones
  bookmark IX [VALUE]     read or write a bookmark slot
  exit                    leave the shell
`)
}

func (sh *shell[K, V]) get(args []string, withValue bool) error {
	for _, arg := range args {
		k, err := parseKey[K](arg)
		if err != nil {
			return err
		}
		v, ok, err := sh.w.Get(k)
		switch {
		case err != nil:
			return err
		case !withValue:
			fmt.Fprintf(sh.c.out, "%v: %t\n", k, ok)
		case ok:
			fmt.Fprintf(sh.c.out, "%v=%v\n", k, v)
		default:
			fmt.Fprintf(sh.c.out, "%v: not found\n", k)
		}
	}
	return nil
}

func (sh *shell[K, V]) put(args []string) error {
	if len(args) == 2 && !strings.Contains(args[0], "=") {
		args = []string{args[0] + "=" + args[1]}
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: put KEY=VALUE", errUsage)
	}
	for _, arg := range args {
		k, v, err := parsePair[K, V](arg)
		if err != nil {
			return err
		}
		for {
			pr, err := sh.w.Put(k, v)
			if err != nil {
				return err
			}
			if pr == phmap.PutOK {
				break
			}
			if err := sh.republish(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sh *shell[K, V]) del(args []string) error {
	for _, arg := range args {
		k, err := parseKey[K](arg)
		if err != nil {
			return err
		}
		removed, err := sh.w.Remove(k)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(sh.c.out, "%v: not found\n", k)
		}
	}
	return nil
}

func (sh *shell[K, V]) size() error {
	size, err := sh.w.Size()
	if err != nil {
		return err
	}
	tombstones, err := sh.w.Tombstones()
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.c.out, "size=%d tombstones=%d maxEntries=%d\n", size, tombstones, sh.w.MaxEntries())
	return nil
}

func (sh *shell[K, V]) bookmark(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("%w: bookmark IX [VALUE]", errUsage)
	}
	var ix int
	if _, err := fmt.Sscan(args[0], &ix); err != nil {
		return fmt.Errorf("%w: bookmark index %q", errUsage, args[0])
	}
	if len(args) == 2 {
		var v int64
		if _, err := fmt.Sscan(args[1], &v); err != nil {
			return fmt.Errorf("%w: bookmark value %q", errUsage, args[1])
		}
		return sh.w.StoreBookmark(ix, v)
	}
	v, err := sh.w.LoadBookmark(ix)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.c.out, "bookmark[%d]=%d\n", ix, v)
	return nil
}

// republish commits a copy of the edited map sized for twice its entries
// and continues editing the copy.
func (sh *shell[K, V]) republish() error {
	next, err := sh.env.CopyMap(sh.w)
	if err != nil {
		return err
	}
	if err := sh.env.Commit(next); err != nil {
		_ = sh.env.Discard(next)
		return err
	}
	_ = sh.w.Close()
	sh.w = next
	fmt.Fprintf(sh.c.out, "published version %d (maxEntries=%d)\n", next.Version(), next.MaxEntries())
	return nil
}
