// Command corekvctl is the operator REPL for inspecting and administering a
// corekv log prefix: manifest state, registered cursors, and GC sweeps. It
// is a direct descendant of scm/prompt.go's Repl shape, swapping Scheme
// evaluation for a small fixed command set.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"

	"github.com/vekterdb/corekv/config"
	"github.com/vekterdb/corekv/objectstore"
	"github.com/vekterdb/corekv/wal"
)

const (
	newprompt  = "\033[32mcorekv>\033[0m "
	contprompt = "\033[32m...\033[0m "
)

func main() {
	var root, prefix, configPath string
	flag.StringVar(&root, "root", "./data", "local object store root directory")
	flag.StringVar(&prefix, "prefix", "default", "log prefix to administer")
	flag.StringVar(&configPath, "config", "", "path to a corekv JSON settings document")
	flag.Parse()

	if configPath != "" {
		if err := config.Load(configPath); err != nil {
			fmt.Fprintln(os.Stderr, "corekvctl: loading config:", err)
			os.Exit(1)
		}
	}

	store, err := objectstore.NewLocalStore(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, "corekvctl: opening store:", err)
		os.Exit(1)
	}

	log := wal.NewLog(store, prefix, "corekvctl", config.WALRolloverConfig())
	log.SetThrottle(config.WALThrottle())
	notifier := wal.NewNotifier()
	onexit.Register(func() { notifier.Close() })

	repl(context.Background(), log)
}

func repl(ctx context.Context, log *wal.Log) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".corekvctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("corekvctl — manifest/cursor/gc operator shell. Type 'help' for commands.")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("error:", r)
				}
			}()
			runCommand(ctx, log, line)
		}()
	}
}

func runCommand(ctx context.Context, log *wal.Log, line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		printHelp()
	case "manifest":
		cmdManifest(ctx, log)
	case "cursor":
		cmdCursor(ctx, log, args)
	case "gc":
		cmdGC(ctx, log)
	case "scan":
		cmdScan(ctx, log, args)
	case "exit", "quit":
		os.Exit(0)
	default:
		fmt.Printf("unknown command %q; type 'help' for a list\n", cmd)
	}
}

func printHelp() {
	fmt.Print(`commands:
  manifest                         show the current manifest summary
  cursor list                      list registered cursors
  cursor create <name> <position>  create a named cursor at position
  cursor advance <name> <position> advance a named cursor to position
  gc                                run a GC sweep gated on the slowest cursor
  scan <from> [max_files] [max_bytes]  list fragments covering [from, ...)
  exit                              leave the shell
`)
}

func cmdManifest(ctx context.Context, log *wal.Log) {
	m, _, err := log.Bootstrap(ctx)
	if err != nil {
		panic(err)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "writer=%s acc_bytes=%d next_write_timestamp=%d next_fragment_seq_no=%d\n",
		m.Writer, m.AccBytes, m.NextWriteTimestamp, m.NextFragmentSeqNo)
	fmt.Fprintf(&b, "fragments=%d snapshots=%d setsum=%s\n", len(m.Fragments), len(m.Snapshots), m.Setsum.Hex())
	fmt.Print(b.String())
}

func cmdCursor(ctx context.Context, log *wal.Log, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: cursor <list|create|advance> ...")
		return
	}
	switch args[0] {
	case "list":
		cursors, err := log.ListCursors(ctx)
		if err != nil {
			panic(err)
		}
		for _, c := range cursors {
			fmt.Printf("%s -> %d\n", c.Name, c.Position)
		}
	case "create":
		if len(args) != 3 {
			fmt.Println("usage: cursor create <name> <position>")
			return
		}
		pos, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			panic(err)
		}
		if err := log.CreateCursor(ctx, args[1], pos); err != nil {
			panic(err)
		}
		fmt.Println("ok")
	case "advance":
		if len(args) != 3 {
			fmt.Println("usage: cursor advance <name> <position>")
			return
		}
		pos, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			panic(err)
		}
		_, etag, err := log.OpenCursor(ctx, args[1])
		if err != nil {
			panic(err)
		}
		if err := log.AdvanceCursor(ctx, args[1], etag, pos); err != nil {
			panic(err)
		}
		fmt.Println("ok")
	default:
		fmt.Printf("unknown cursor subcommand %q\n", args[0])
	}
}

func cmdScan(ctx context.Context, log *wal.Log, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: scan <from> [max_files] [max_bytes]")
		return
	}
	from, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		panic(err)
	}
	var limits wal.ScanLimits
	if len(args) >= 2 {
		maxFiles, err := strconv.Atoi(args[1])
		if err != nil {
			panic(err)
		}
		limits.MaxFiles = maxFiles
	}
	if len(args) >= 3 {
		maxBytes, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			panic(err)
		}
		limits.MaxBytes = maxBytes
	}

	frags, err := log.Scan(ctx, from, limits)
	if err != nil {
		panic(err)
	}
	for _, f := range frags {
		fmt.Printf("%s seq_no=%d start=%d limit=%d num_bytes=%d\n", f.Path, f.SeqNo, f.Start, f.Limit, f.NumBytes)
	}
}

func cmdGC(ctx context.Context, log *wal.Log) {
	result, err := log.GC(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("watermark=%d fragments_deleted=%d snapshots_deleted=%d\n",
		result.Watermark, len(result.FragmentsDeleted), len(result.SnapshotsDeleted))
}
