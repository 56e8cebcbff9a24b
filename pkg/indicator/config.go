package indicator

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chartlab-api/pkg/confkit"
)

const (
	// EnvInterpreter overrides the configured interpreter.
	EnvInterpreter = "INDICATOR_INTERPRETER"
	// EnvTimeoutMs overrides the configured timeout, in milliseconds.
	EnvTimeoutMs = "INDICATOR_TIMEOUT_MS"

	defaultTimeout        = 5000 * time.Millisecond
	defaultEntry          = "indicator.yaml"
	defaultMaxOutputBytes = 8 << 20
)

// Config controls how indicator scripts are located and executed.
type Config struct {
	// Dir holds one sub-directory per indicator id.
	Dir string `yaml:"dir"`
	// Entry is the script file name inside an indicator directory.
	Entry string `yaml:"entry"`
	// Interpreter runs the script. Empty executes the script itself.
	Interpreter string   `yaml:"interpreter"`
	Args        []string `yaml:"args"`

	TimeoutRaw     string        `yaml:"timeout"`
	Timeout        time.Duration `yaml:"-"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// LoadConfig reads configuration from disk. Relative directories resolve
// against the file's location.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open indicator config: %w", err)
	}
	defer file.Close()
	cfg, err := LoadConfigFromReader(file)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read indicator config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal indicator config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize expands env placeholders, applies env overrides and defaults, then validates.
func (c *Config) Normalize() error {
	c.Dir = strings.TrimSpace(os.ExpandEnv(c.Dir))
	c.Entry = strings.TrimSpace(c.Entry)
	c.Interpreter = strings.TrimSpace(os.ExpandEnv(c.Interpreter))
	c.TimeoutRaw = strings.TrimSpace(c.TimeoutRaw)
	for i, arg := range c.Args {
		c.Args[i] = os.ExpandEnv(arg)
	}

	if v, ok := os.LookupEnv(EnvInterpreter); ok {
		c.Interpreter = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimeoutMs)); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("indicator config: %s must be a positive integer, got %q", EnvTimeoutMs, v)
		}
		c.Timeout = time.Duration(ms) * time.Millisecond
	} else if c.TimeoutRaw != "" {
		d, err := time.ParseDuration(c.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("indicator config: invalid timeout %q: %w", c.TimeoutRaw, err)
		}
		c.Timeout = d
	}

	if c.Entry == "" {
		c.Entry = defaultEntry
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	return c.Validate()
}

func (c *Config) resolvePaths(base string) {
	c.Dir = confkit.ResolvePath(base, c.Dir)
	// bare command names stay on PATH
	if strings.ContainsRune(c.Interpreter, filepath.Separator) {
		c.Interpreter = confkit.ResolvePath(base, c.Interpreter)
	}
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("indicator config: dir is required")
	}
	if strings.ContainsAny(c.Entry, `/\`) {
		return fmt.Errorf("indicator config: entry %q must be a file name", c.Entry)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("indicator config: timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxOutputBytes < 0 {
		return errors.New("indicator config: max_output_bytes cannot be negative")
	}
	return nil
}
