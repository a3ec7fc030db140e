// Package config manages YAML-based configuration and command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no
// --config flag is given.
const DefaultConfigFile = "markkeep.yaml"

// Config holds all configuration options for MarkKeep
type Config struct {
	// Directory whose files are tracked
	Root string `yaml:"root"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Extensions []string `yaml:"extensions"`
	Exclude    []string `yaml:"exclude"`
	Recursive  bool     `yaml:"recursive"`

	// Quiet period before a burst of events for one path is applied, and
	// the upper bound on how long a pending event may be held back.
	Debounce time.Duration `yaml:"debounce"`
	MaxWait  time.Duration `yaml:"max_wait"`

	MaxFileSize int64 `yaml:"max_file_size"`

	// Unix socket for the msgpack query protocol; empty disables it
	Socket string `yaml:"socket,omitempty"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`

	// Internal: path of the file the config was loaded from
	configPath string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Root:        ".",
		Host:        "0.0.0.0",
		Port:        4000,
		Extensions:  []string{".md"},
		Exclude:     []string{".git", "node_modules", "*.swp", "*~", ".#*"},
		Recursive:   false,
		Debounce:    50 * time.Millisecond,
		MaxWait:     500 * time.Millisecond,
		MaxFileSize: 4 << 20,
		LogLevel:    "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the given command line arguments (without the program name). Flags
// override the file only when explicitly set. Up to two positional
// arguments are accepted: port and root.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	// Filter out 'serve' subcommand if present
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}

	flags := flag.NewFlagSet("markkeep", flag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "Configuration file path")
	root := flags.StringP("root", "r", "", "Directory to watch")
	host := flags.String("host", "", "HTTP listen host")
	port := flags.IntP("port", "p", 0, "HTTP server port")
	exts := flags.StringSlice("ext", nil, "Tracked file extensions (repeatable)")
	excludes := flags.StringSlice("exclude", nil, "Exclude pattern, doublestar syntax (repeatable)")
	recursive := flags.Bool("recursive", false, "Watch subdirectories too")
	debounce := flags.Duration("debounce", 0, "Quiet period before applying file events")
	maxWait := flags.Duration("max-wait", 0, "Longest time a file event may be delayed")
	maxSize := flags.Int64("max-file-size", 0, "Largest tracked file in bytes")
	socket := flags.String("socket", "", "Unix socket path for the msgpack protocol")
	logLevel := flags.String("log-level", "", "Log level: debug|info|warn|error")
	logFile := flags.String("log-file", "", "Log file path (default: stderr)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Determine config file path
	cfgPath := *configFile
	if cfgPath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			cfgPath = DefaultConfigFile
		}
	}
	if cfgPath != "" {
		if err := cfg.loadFromFile(cfgPath); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", cfgPath, err)
		}
		cfg.configPath = cfgPath
	}

	// Command line flags override config file (only if explicitly set)
	if flags.Changed("root") {
		cfg.Root = *root
	}
	if flags.Changed("host") {
		cfg.Host = *host
	}
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("ext") {
		cfg.Extensions = *exts
	}
	if flags.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, *excludes...)
	}
	if flags.Changed("recursive") {
		cfg.Recursive = *recursive
	}
	if flags.Changed("debounce") {
		cfg.Debounce = *debounce
	}
	if flags.Changed("max-wait") {
		cfg.MaxWait = *maxWait
	}
	if flags.Changed("max-file-size") {
		cfg.MaxFileSize = *maxSize
	}
	if flags.Changed("socket") {
		cfg.Socket = *socket
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = *logFile
	}

	if err := cfg.applyPositional(flags.Args()); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyPositional handles the `server [port] [root]` invocation form.
func (c *Config) applyPositional(rest []string) error {
	if len(rest) > 2 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(rest[2:], " "))
	}
	if len(rest) > 0 {
		p, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", rest[0], err)
		}
		c.Port = p
	}
	if len(rest) > 1 {
		c.Root = rest[1]
	}
	return nil
}

// normalize resolves the root to an absolute path and gives every
// extension a leading dot.
func (c *Config) normalize() {
	if c.Root == "" {
		c.Root = "."
	}
	if absPath, err := filepath.Abs(c.Root); err == nil {
		c.Root = absPath
	}

	exts := make([]string, 0, len(c.Extensions))
	for _, e := range c.Extensions {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	c.Extensions = exts
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if len(c.Extensions) == 0 {
		return errors.New("at least one tracked extension is required")
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if c.MaxWait < c.Debounce {
		return fmt.Errorf("max_wait (%s) must not be shorter than debounce (%s)", c.MaxWait, c.Debounce)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	return nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// GetConfigFilePath returns the path to the config file, empty when
// only defaults and flags were used
func (c *Config) GetConfigFilePath() string {
	return c.configPath
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsExcluded checks if a root-relative, slash separated path should be
// excluded. A pattern excludes a path when it matches the whole path or
// any single element of it.
func (c *Config) IsExcluded(relPath string) bool {
	relPath = strings.TrimPrefix(path.Clean("/"+relPath), "/")
	if relPath == "" {
		return false
	}
	elems := strings.Split(relPath, "/")
	for _, pattern := range c.Exclude {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
		for _, elem := range elems {
			if matched, _ := doublestar.Match(pattern, elem); matched {
				return true
			}
		}
	}
	return false
}

// HasTrackedExtension checks if a file has one of the tracked extensions
func (c *Config) HasTrackedExtension(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range c.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsTracked checks if a root-relative path is a candidate for the index
func (c *Config) IsTracked(relPath string) bool {
	return c.HasTrackedExtension(relPath) && !c.IsExcluded(relPath)
}
