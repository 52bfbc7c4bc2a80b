package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/user/termdeck/internal/files"
	"github.com/user/termdeck/internal/stats"
)

// EnvPrefix prefixes every environment override, e.g. TERMDECK_PORT.
const EnvPrefix = "TERMDECK"

type Config struct {
	Port      int    `yaml:"port" split_words:"true"`
	Token     string `yaml:"token" split_words:"true"`
	DBPath    string `yaml:"db_path" split_words:"true"`
	StatsPath string `yaml:"stats_path" split_words:"true"`

	// Shell overrides $SHELL for new terminals when set.
	Shell     string `yaml:"shell" split_words:"true"`
	ShellArgs string `yaml:"shell_args" split_words:"true"`
	Term      string `yaml:"term" split_words:"true"`

	ScanExcludes    []string      `yaml:"scan_excludes" split_words:"true"`
	MaxReadBytes    int64         `yaml:"max_read_bytes" split_words:"true"`
	ScrollbackBytes int           `yaml:"scrollback_bytes" split_words:"true"`
	OutputBatch     time.Duration `yaml:"output_batch" split_words:"true"`
	LogLevel        string        `yaml:"log_level" split_words:"true"`

	Pricing stats.Pricing `yaml:"pricing" split_words:"true"`

	ConfigPath string   `yaml:"-" ignored:"true"`
	PrintToken bool     `yaml:"-" ignored:"true"`
	ShellArgv  []string `yaml:"-" ignored:"true"`
}

// Default returns the built-in configuration rooted at homeDir.
func Default(homeDir string) *Config {
	return &Config{
		Port:            8765,
		DBPath:          filepath.Join(homeDir, ".config", "termdeck", "termdeck.db"),
		StatsPath:       filepath.Join(homeDir, ".claude", "stats-cache.json"),
		ShellArgs:       "-l",
		Term:            "xterm-256color",
		ScanExcludes:    append([]string(nil), files.DefaultExcludes...),
		MaxReadBytes:    files.DefaultMaxReadBytes,
		ScrollbackBytes: 256 << 10,
		OutputBatch:     100 * time.Millisecond,
		LogLevel:        "info",
		Pricing:         stats.DefaultPricing,
		ConfigPath:      filepath.Join(homeDir, ".config", "termdeck", "config.yaml"),
	}
}

// Load builds the configuration from defaults, the YAML config file,
// TERMDECK_* environment variables and finally args, in that order.
func Load(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg := Default(homeDir)

	var (
		port       int
		token      string
		configPath string
		printToken bool
	)
	fset := flag.NewFlagSet("termdeck", flag.ContinueOnError)
	fset.IntVar(&port, "port", cfg.Port, "server port (1-65535)")
	fset.StringVar(&token, "token", "", "authentication token (auto-generated if empty)")
	fset.StringVar(&configPath, "config", cfg.ConfigPath, "path to config.yaml")
	fset.BoolVar(&printToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigPath = configPath
	cfg.PrintToken = printToken

	if err := cfg.loadFromFile(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = port
		case "token":
			cfg.Token = token
		}
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToken(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if err := files.ValidatePatterns(c.ScanExcludes); err != nil {
		return fmt.Errorf("invalid scan_excludes: %w", err)
	}
	argv, err := shellquote.Split(c.ShellArgs)
	if err != nil {
		return fmt.Errorf("invalid shell_args %q: %w", c.ShellArgs, err)
	}
	c.ShellArgv = argv
	if c.MaxReadBytes <= 0 {
		return fmt.Errorf("invalid max_read_bytes %d: must be positive", c.MaxReadBytes)
	}
	if c.ScrollbackBytes <= 0 {
		return fmt.Errorf("invalid scrollback_bytes %d: must be positive", c.ScrollbackBytes)
	}
	if c.OutputBatch < 0 {
		return fmt.Errorf("invalid output_batch %s: must not be negative", c.OutputBatch)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
	}
	return nil
}

// saveToken writes the token into the config file, keeping every other key
// the file already has.
func (c *Config) saveToken() error {
	doc := map[string]any{}
	data, err := os.ReadFile(c.ConfigPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	doc["token"] = c.Token

	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, out, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
