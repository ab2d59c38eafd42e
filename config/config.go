// Package config handles clientserver.toml server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked for by FindAndLoad.
const FileName = "clientserver.toml"

// Config represents a clientserver.toml file.
type Config struct {
	Server    Server    `toml:"server"`
	Log       Log       `toml:"log"`
	Directory Directory `toml:"directory"`

	// Dir is the directory containing the file (set at load time). Relative
	// paths in the file are resolved against it.
	Dir string `toml:"-"`
}

// Server configures the RPC listener and session lifetime.
type Server struct {
	Address       string   `toml:"address"`
	SessionTTL    Duration `toml:"session-ttl"`
	SweepInterval Duration `toml:"sweep-interval"`
}

// Log configures diagnostics. Verbosity follows commonlog: 0 errors only,
// higher values add warnings, notices, info and debug. Trace, when set,
// names a file receiving every session's request/reply trace.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
	Trace     string `toml:"trace"`
}

// Directory configures the live-object directory. An empty path keeps it
// in memory.
type Directory struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Duration is a time.Duration written as a string such as "30m".
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

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			Address:       ":4567",
			SessionTTL:    Duration{30 * time.Minute},
			SweepInterval: Duration{time.Minute},
		},
		Directory: Directory{Enabled: true},
	}
}

// Load parses the configuration file at path. Settings missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a clientserver.toml file and
// loads it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is empty")
	}
	if c.Server.SessionTTL.Duration <= 0 {
		return fmt.Errorf("server.session-ttl must be positive, got %s", c.Server.SessionTTL)
	}
	if c.Server.SweepInterval.Duration <= 0 {
		return fmt.Errorf("server.sweep-interval must be positive, got %s", c.Server.SweepInterval)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	return nil
}

// Resolve returns p made absolute against the configuration's directory.
// Empty and absolute paths are returned unchanged.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// DirectoryPath returns the resolved directory database path.
func (c *Config) DirectoryPath() string { return c.Resolve(c.Directory.Path) }

// LogFile returns the resolved log file path, or "" for stderr.
func (c *Config) LogFile() string { return c.Resolve(c.Log.File) }

// TraceFile returns the resolved trace file path, or "" when tracing is off.
func (c *Config) TraceFile() string { return c.Resolve(c.Log.Trace) }
