// garnet runs built-in IR programs through the interpreter, the JIT and the
// profiling inliner, and reports what each of them did.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/engine"
	"github.com/chazu/garnet/runtime"
)

func main() {
	configDir := flag.String("config", ".", "Directory to search upwards for garnet.toml")
	name := flag.String("program", "fib", "Program to run")
	arg := flag.Int64("n", 25, "Argument passed to the program")
	repeat := flag.Int("repeat", 20, "Number of times to run the program")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	noJIT := flag.Bool("no-jit", false, "Disable the JIT")
	noProfile := flag.Bool("no-profile", false, "Disable the profiler")
	threshold := flag.Int("threshold", 0, "JIT threshold (overrides [jit] threshold)")
	cacheDir := flag.String("cache-dir", "", "Directory artifact cache")
	cacheDB := flag.String("cache-db", "", "SQLite artifact cache")
	list := flag.Bool("list", false, "List programs and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: garnet [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a built-in program and prints execution statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  garnet -program fib -n 27          # Recursive fib with the JIT\n")
		fmt.Fprintf(os.Stderr, "  garnet -program inline -n 100000   # Watch the profiler inline\n")
		fmt.Fprintf(os.Stderr, "  garnet -no-jit -no-profile         # Interpreter only\n")
	}
	flag.Parse()

	if *list {
		for _, n := range programNames() {
			fmt.Printf("  %-8s %s\n", n, programs[n].describe)
		}
		return
	}

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *noJIT {
		cfg.JIT.Enabled = false
	}
	if *noProfile {
		cfg.Profiler.Enabled = false
	}
	if *threshold > 0 {
		cfg.JIT.Threshold = *threshold
	}
	if *cacheDir != "" {
		cfg.JIT.CacheDir = *cacheDir
	}
	if *cacheDB != "" {
		cfg.JIT.CacheDB = *cacheDB
	}

	var logPath *string
	if cfg.Log.Path != "" {
		logPath = &cfg.Log.Path
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	prog, ok := programs[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown program %q (use -list)\n", *name)
		os.Exit(1)
	}

	e, err := engine.New(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	prog.install(e)

	ctx := e.NewThread()
	self := runtime.NewObject(e.Runtime.ObjectClass())
	var result runtime.Value
	start := time.Now()
	for i := 0; i < *repeat; i++ {
		runStart := time.Now()
		result, err = e.Call(ctx, self, prog.entry, *arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			e.Shutdown()
			os.Exit(1)
		}
		fmt.Printf("run %3d: %v in %s\n", i+1, runtime.Inspect(result), time.Since(runStart))
	}
	elapsed := time.Since(start)
	e.Wait()

	s := e.Stats()
	fmt.Println()
	fmt.Printf("%s(%d) x %s = %v in %s\n", prog.entry, *arg, humanize.Comma(int64(*repeat)), runtime.Inspect(result), elapsed)
	if e.JIT != nil {
		fmt.Printf("jit:      %s\n", s.JIT)
	}
	if e.Profiler != nil {
		fmt.Printf("profiler: %s analyses, %s sites inlined, %s refused, %s closures spliced\n",
			humanize.Comma(int64(s.Analyses)),
			humanize.Comma(int64(s.Inliner.Inlined)),
			humanize.Comma(int64(s.Inliner.Refused)),
			humanize.Comma(int64(s.Inliner.ClosuresSpliced)))
	}
	fmt.Printf("caches:   %d monomorphic, %d polymorphic, %d megamorphic call sites\n",
		s.Monomorphic, s.Polymorphic, s.Megamorphic)

	e.Shutdown()
}
