// Package config handles garnet.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "garnet.toml"

// Config represents a garnet.toml file.
type Config struct {
	JIT         JIT         `toml:"jit"`
	Interpreter Interpreter `toml:"interpreter"`
	Profiler    Profiler    `toml:"profiler"`
	Inliner     Inliner     `toml:"inliner"`
	Log         Log         `toml:"log"`

	// Dir is the directory containing the garnet.toml file (set at load time).
	Dir string `toml:"-"`
}

// JIT configures the background compiler.
type JIT struct {
	Enabled     bool     `toml:"enabled"`
	Threshold   int      `toml:"threshold"`
	Background  bool     `toml:"background"`
	MaxWorkers  int      `toml:"max-workers"`
	IdleTimeout Duration `toml:"idle-timeout"`
	// Exclude entries are "Class", "Class#method" or "method".
	Exclude     []string `toml:"exclude"`
	SaltSymbols bool     `toml:"salt-symbols"`
	Log         bool     `toml:"log"`
	// CacheDir and CacheDB select an artifact store; CacheDB wins when both are set.
	CacheDir string `toml:"cache-dir"`
	CacheDB  string `toml:"cache-db"`
}

// Interpreter configures method execution.
type Interpreter struct {
	FullBuildThreshold int `toml:"full-build-threshold"`
	MaxCallDepth       int `toml:"max-call-depth"`
}

// Profiler configures profile-driven inlining.
type Profiler struct {
	Enabled          bool    `toml:"enabled"`
	Period           int64   `toml:"period"`
	QuiescentPeriods int     `toml:"quiescent-periods"`
	MaxCandidates    int     `toml:"max-candidates"`
	CumulativeCutoff float64 `toml:"cumulative-cutoff"`
	MinShare         float64 `toml:"min-share"`
}

// Inliner configures the CFG inliner.
type Inliner struct {
	MaxInstrs int `toml:"max-instrs"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Duration is a time.Duration written as "60s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no garnet.toml exists.
func Default() *Config {
	return &Config{
		JIT: JIT{
			Enabled:     true,
			Threshold:   50,
			Background:  true,
			MaxWorkers:  2,
			IdleTimeout: Duration{60 * time.Second},
			SaltSymbols: true,
		},
		Interpreter: Interpreter{
			FullBuildThreshold: 2,
			MaxCallDepth:       10000,
		},
		Profiler: Profiler{
			Enabled:          true,
			Period:           20000,
			QuiescentPeriods: 3,
			MaxCandidates:    100,
			CumulativeCutoff: 0.99,
			MinShare:         0.01,
		},
		Inliner: Inliner{MaxInstrs: 500},
	}
}

// Load parses a garnet.toml file from the given directory. Keys missing
// from the file keep their default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.resolvePaths()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a garnet.toml file and loads
// it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// resolvePaths makes relative cache and log paths relative to Dir.
func (c *Config) resolvePaths() {
	for _, p := range []*string{&c.JIT.CacheDir, &c.JIT.CacheDB, &c.Log.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.JIT.Threshold < 1:
		return fmt.Errorf("jit.threshold must be positive, got %d", c.JIT.Threshold)
	case c.JIT.MaxWorkers < 1:
		return fmt.Errorf("jit.max-workers must be positive, got %d", c.JIT.MaxWorkers)
	case c.JIT.IdleTimeout.Duration < 0:
		return fmt.Errorf("jit.idle-timeout must not be negative, got %s", c.JIT.IdleTimeout)
	case c.Interpreter.FullBuildThreshold < 1:
		return fmt.Errorf("interpreter.full-build-threshold must be positive, got %d", c.Interpreter.FullBuildThreshold)
	case c.Interpreter.MaxCallDepth < 1:
		return fmt.Errorf("interpreter.max-call-depth must be positive, got %d", c.Interpreter.MaxCallDepth)
	case c.Profiler.Period < 1:
		return fmt.Errorf("profiler.period must be positive, got %d", c.Profiler.Period)
	case c.Profiler.QuiescentPeriods < 0:
		return fmt.Errorf("profiler.quiescent-periods must not be negative, got %d", c.Profiler.QuiescentPeriods)
	case c.Profiler.CumulativeCutoff <= 0 || c.Profiler.CumulativeCutoff > 1:
		return fmt.Errorf("profiler.cumulative-cutoff must be in (0, 1], got %g", c.Profiler.CumulativeCutoff)
	case c.Profiler.MinShare < 0 || c.Profiler.MinShare > 1:
		return fmt.Errorf("profiler.min-share must be in [0, 1], got %g", c.Profiler.MinShare)
	case c.Inliner.MaxInstrs < 0:
		return fmt.Errorf("inliner.max-instrs must not be negative, got %d", c.Inliner.MaxInstrs)
	}
	return nil
}
