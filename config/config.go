// Package config handles objimpl.toml runtime configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/objimpl/vm"
)

// FileName is the name of the configuration file.
const FileName = "objimpl.toml"

//go:embed schema.cue
var schemaSource string

// Config represents an objimpl.toml configuration.
type Config struct {
	Heap     Heap     `toml:"heap" json:"heap"`
	Elements Elements `toml:"elements" json:"elements"`
	Log      Log      `toml:"log" json:"log"`
	Snapshot Snapshot `toml:"snapshot" json:"snapshot"`
	Server   Server   `toml:"server" json:"server"`

	// Dir is the directory containing the objimpl.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Heap configures allocation-triggered and paced collection.
type Heap struct {
	AutoCollect  bool   `toml:"auto-collect" json:"auto-collect"`
	NurseryLimit int    `toml:"nursery-limit" json:"nursery-limit"`
	StepBudget   int    `toml:"step-budget" json:"step-budget"`
	PaceInterval string `toml:"pace-interval" json:"pace-interval"`
}

// Elements configures when dense elements convert to sparse storage.
type Elements struct {
	MinSparseIndex   uint32  `toml:"min-sparse-index" json:"min-sparse-index"`
	MinFillRatio     float64 `toml:"min-fill-ratio" json:"min-fill-ratio"`
	MaxDenseCapacity uint32  `toml:"max-dense-capacity" json:"max-dense-capacity"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Snapshot configures the snapshot archive.
type Snapshot struct {
	DB string `toml:"db" json:"db"`
}

// Server configures the inspection server.
type Server struct {
	Addr      string `toml:"addr" json:"addr"`
	HandleTTL string `toml:"handle-ttl" json:"handle-ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	hc := vm.DefaultHeapConfig()
	return &Config{
		Heap: Heap{
			NurseryLimit: hc.NurseryLimit,
			StepBudget:   hc.StepBudget,
			PaceInterval: "0s",
		},
		Elements: Elements{
			MinSparseIndex:   hc.Sparse.MinSparseIndex,
			MinFillRatio:     hc.Sparse.MinFillRatio,
			MaxDenseCapacity: hc.Sparse.MaxDenseCapacity,
		},
		Snapshot: Snapshot{DB: "objimpl.db"},
		Server:   Server{Addr: "localhost:7460", HandleTTL: "30m"},
	}
}

// Load parses the objimpl.toml file in the given directory.
func Load(dir string) (*Config, error) {
	c, err := LoadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// LoadFile parses and validates a configuration file. Keys the file does
// not set keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	c.Dir = filepath.Dir(path)
	return c, nil
}

// FindAndLoad walks up from startDir to find an objimpl.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// HeapConfig converts the configuration to heap tuning.
func (c *Config) HeapConfig() (vm.HeapConfig, error) {
	pace, err := time.ParseDuration(c.Heap.PaceInterval)
	if err != nil {
		return vm.HeapConfig{}, fmt.Errorf("heap pace-interval: %w", err)
	}
	return vm.HeapConfig{
		Sparse: vm.SparsePolicy{
			MinSparseIndex:   c.Elements.MinSparseIndex,
			MinFillRatio:     c.Elements.MinFillRatio,
			MaxDenseCapacity: c.Elements.MaxDenseCapacity,
		},
		AutoCollect:  c.Heap.AutoCollect,
		NurseryLimit: c.Heap.NurseryLimit,
		StepBudget:   c.Heap.StepBudget,
		PaceInterval: pace,
	}, nil
}

// HandleTTL returns how long the server keeps unused inspection handles.
func (c *Config) HandleTTL() (time.Duration, error) {
	ttl, err := time.ParseDuration(c.Server.HandleTTL)
	if err != nil {
		return 0, fmt.Errorf("server handle-ttl: %w", err)
	}
	return ttl, nil
}

// SnapshotDBPath returns the snapshot database path, resolved against the
// configuration's directory when relative.
func (c *Config) SnapshotDBPath() string {
	if filepath.IsAbs(c.Snapshot.DB) || c.Dir == "" {
		return c.Snapshot.DB
	}
	return filepath.Join(c.Dir, c.Snapshot.DB)
}
