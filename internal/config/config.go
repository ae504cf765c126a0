package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	logpkg "github.com/akshaybadola/simple-ssh-tunnel/internal/log"
	"github.com/akshaybadola/simple-ssh-tunnel/internal/resolve"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Remote     string
	Patterns   []resolve.PatternEntry
	ExtraJumps map[string]resolve.JumpSpec
	Logging    LoggingConfig
}

type LoggingConfig struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// LoadOptions selects the file and carries the command-line overrides.
// A non-empty override always wins over the file value.
type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

// FlagOverrides are the raw command-line values. The two maps arrive
// as JSON strings and replace the file maps wholesale when given.
type FlagOverrides struct {
	Remote       string
	PortRegexMap string
	ExtraJumps   string
}

// LoadReport tells the caller what the loader actually read. A missing
// file is reported, not treated as an error.
type LoadReport struct {
	Path        string
	FileMissing bool
}

func DefaultConfig() Config {
	return Config{
		ExtraJumps: map[string]resolve.JumpSpec{},
		Logging: LoggingConfig{
			Level:     logpkg.DefaultLevel,
			MaxSizeMB: logpkg.DefaultMaxSizeMB,
			MaxFiles:  logpkg.DefaultMaxFiles,
		},
	}
}

func Load(opts LoadOptions) (Config, LoadReport, error) {
	cfg := DefaultConfig()
	report := LoadReport{}

	path, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve config path: %w", err)
	}
	report.Path = path

	missing, err := loadAndApplyFile(path, &cfg)
	if err != nil {
		return Config{}, report, err
	}
	report.FileMissing = missing

	if err := applyFlagOverrides(&cfg, opts.Flags); err != nil {
		return Config{}, report, err
	}

	return cfg, report, nil
}

type rawConfig struct {
	Remote       *string            `toml:"remote"`
	PortRegexMap map[string]string  `toml:"port_regex_map"`
	ExtraJumps   map[string]rawJump `toml:"extra_jumps"`
	Logging      *rawLogging        `toml:"logging"`
}

type rawJump struct {
	Over        *string `toml:"over"`
	Destination *string `toml:"destination"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) (missing bool, err error) {
	if path == "" {
		return true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	if raw.Remote != nil {
		cfg.Remote = *raw.Remote
	}
	if raw.PortRegexMap != nil {
		cfg.Patterns = patternEntries(raw.PortRegexMap)
	}
	if raw.ExtraJumps != nil {
		jumps, err := jumpSpecs(raw.ExtraJumps)
		if err != nil {
			return false, err
		}
		cfg.ExtraJumps = jumps
	}
	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	return false, nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) error {
	if strings.TrimSpace(flags.Remote) != "" {
		cfg.Remote = flags.Remote
	}
	if strings.TrimSpace(flags.PortRegexMap) != "" {
		var patterns map[string]string
		if err := json.Unmarshal([]byte(flags.PortRegexMap), &patterns); err != nil {
			return fmt.Errorf("%w: parse --port-regex-map: %v", ErrInvalidConfig, err)
		}
		cfg.Patterns = patternEntries(patterns)
	}
	if strings.TrimSpace(flags.ExtraJumps) != "" {
		var rawJumps map[string]rawJump
		if err := json.Unmarshal([]byte(flags.ExtraJumps), &rawJumps); err != nil {
			return fmt.Errorf("%w: parse --extra-jumps: %v", ErrInvalidConfig, err)
		}
		jumps, err := jumpSpecs(rawJumps)
		if err != nil {
			return err
		}
		cfg.ExtraJumps = jumps
	}
	return nil
}

func patternEntries(patterns map[string]string) []resolve.PatternEntry {
	keys := make([]string, 0, len(patterns))
	for pattern := range patterns {
		keys = append(keys, pattern)
	}
	sort.Strings(keys)

	entries := make([]resolve.PatternEntry, 0, len(keys))
	for _, pattern := range keys {
		entries = append(entries, resolve.PatternEntry{
			Pattern: pattern,
			Users:   splitUsers(patterns[pattern]),
		})
	}
	return entries
}

func splitUsers(raw string) []string {
	parts := strings.Split(raw, ",")
	users := make([]string, 0, len(parts))
	for _, part := range parts {
		user := strings.TrimSpace(part)
		if user == "" {
			continue
		}
		users = append(users, user)
	}
	return users
}

func jumpSpecs(raw map[string]rawJump) (map[string]resolve.JumpSpec, error) {
	jumps := make(map[string]resolve.JumpSpec, len(raw))
	for user, jump := range raw {
		if jump.Over == nil || strings.TrimSpace(*jump.Over) == "" {
			return nil, fmt.Errorf("%w: extra jump %q missing over", ErrInvalidConfig, user)
		}
		if jump.Destination == nil || strings.TrimSpace(*jump.Destination) == "" {
			return nil, fmt.Errorf("%w: extra jump %q missing destination", ErrInvalidConfig, user)
		}
		jumps[user] = resolve.JumpSpec{
			Over:        strings.TrimSpace(*jump.Over),
			Destination: strings.TrimSpace(*jump.Destination),
		}
	}
	return jumps, nil
}

func setString(raw *string, target *string) {
	if raw == nil {
		return
	}
	*target = *raw
}

func setInt(raw *int, target *int) {
	if raw == nil {
		return
	}
	*target = *raw
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "SST_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(opts)
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func defaultConfigPath(opts LoadOptions) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "simple-ssh-tunnel", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookupEnv(opts, "XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "simple-ssh-tunnel", "config.toml"), nil
}
