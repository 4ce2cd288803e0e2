package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults.
const (
	DefaultDBPath    = "~/.botlabel/botlabel.db"
	DefaultListen    = "127.0.0.1:8642"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
	DefaultIDPrefix  = "@"
)

// NoPrefix as id_prefix keeps user-id tokens unchanged.
const NoPrefix = "none"

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath  string
	CLIDBPath   string
	CLIListen   string
	CLILogLevel string
	CLIIDPrefix string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath              ResolvedValue `json:"db_path"`
	Listen              ResolvedValue `json:"listen"`
	LogLevel            ResolvedValue `json:"log_level"`
	LogFormat           ResolvedValue `json:"log_format"`
	IDPrefix            ResolvedValue `json:"id_prefix"`
	EmbeddingDimensions ResolvedValue `json:"embedding_dimensions"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Load struct {
		IDPrefix string `yaml:"id_prefix"`
	} `yaml:"load"`
	Embedding struct {
		Dimensions int `yaml:"dimensions"`
	} `yaml:"embedding"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".botlabel", "config.yaml")
}

// ResolveConfig layers built-in defaults, the YAML config file, environment
// variables and CLI flags, later layers winning.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
	}

	apply(&out.DBPath, DefaultDBPath, SourceDefault, "built-in default")
	apply(&out.Listen, DefaultListen, SourceDefault, "built-in default")
	apply(&out.LogLevel, DefaultLogLevel, SourceDefault, "built-in default")
	apply(&out.LogFormat, DefaultLogFormat, SourceDefault, "built-in default")
	apply(&out.IDPrefix, DefaultIDPrefix, SourceDefault, "built-in default")

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Listen, cfg.Server.Listen, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)
		apply(&out.LogFormat, cfg.Log.Format, SourceConfig, path)
		apply(&out.IDPrefix, cfg.Load.IDPrefix, SourceConfig, path)
		if cfg.Embedding.Dimensions != 0 {
			apply(&out.EmbeddingDimensions, strconv.Itoa(cfg.Embedding.Dimensions), SourceConfig, path)
		}
	}

	applyEnv(&out.DBPath, "BOTLABEL_DB")
	applyEnv(&out.DBPath, "BOTLABEL_DB_PATH")
	applyEnv(&out.Listen, "BOTLABEL_LISTEN")
	applyEnv(&out.LogLevel, "BOTLABEL_LOG_LEVEL")
	applyEnv(&out.LogFormat, "BOTLABEL_LOG_FORMAT")
	applyEnv(&out.IDPrefix, "BOTLABEL_ID_PREFIX")
	applyEnv(&out.EmbeddingDimensions, "BOTLABEL_DIMENSIONS")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Listen, opts.CLIListen, SourceCLI, "--listen")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.IDPrefix, opts.CLIIDPrefix, SourceCLI, "--id-prefix")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	if _, err := out.Dimensions(); err != nil {
		return out, err
	}
	if err := out.validatePrefix(); err != nil {
		return out, err
	}

	return out, nil
}

// Prefix returns the user-id prefix to strip, "" when disabled.
func (r ResolvedConfig) Prefix() string {
	if strings.EqualFold(r.IDPrefix.Value, NoPrefix) {
		return ""
	}
	return r.IDPrefix.Value
}

// validatePrefix accepts a single character or NoPrefix.
func (r ResolvedConfig) validatePrefix() error {
	v := r.IDPrefix.Value
	if strings.EqualFold(v, NoPrefix) || utf8.RuneCountInString(v) == 1 {
		return nil
	}
	return fmt.Errorf("invalid id prefix %q (from %s): want a single character or %q", v, r.IDPrefix.From, NoPrefix)
}

// Dimensions returns the pinned embedding width, 0 when unset.
func (r ResolvedConfig) Dimensions() (int, error) {
	v := strings.TrimSpace(r.EmbeddingDimensions.Value)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid embedding dimensions %q (from %s)", v, r.EmbeddingDimensions.From)
	}
	return n, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
