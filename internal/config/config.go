// Package config loads the photo-album configuration from an optional YAML
// file and PHOTOALBUM_* environment variables.
//
// Environment variables override the file. Nested keys are joined with a
// double underscore, so server.base_url is PHOTOALBUM_SERVER__BASE_URL.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/menta2k/photo-album/pkg/auth"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/suggest"
	"github.com/menta2k/photo-album/pkg/types"
)

// EnvPrefix marks environment variables read by Load
const EnvPrefix = "PHOTOALBUM_"

// Persistence backends
const (
	PersistMemory = "memory"
	PersistFile   = "file"
	PersistRedis  = "redis"
)

// Suggestion backends
const (
	SuggestNone    = "none"
	SuggestSalient = "salient"
	SuggestOllama  = "ollama"
)

// Config holds the application configuration
type Config struct {
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Storage  StorageConfig  `koanf:"storage" yaml:"storage"`
	Persist  PersistConfig  `koanf:"persist" yaml:"persist"`
	Geometry GeometryConfig `koanf:"geometry" yaml:"geometry"`
	Fetch    FetchConfig    `koanf:"fetch" yaml:"fetch"`
	Suggest  SuggestConfig  `koanf:"suggest" yaml:"suggest"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr"`
	BaseURL         string        `koanf:"base_url" yaml:"base_url"`
	ReadTimeout     time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// StorageConfig locates the photo bucket on disk
type StorageConfig struct {
	Root         string `koanf:"root" yaml:"root"`
	MinImageSize int    `koanf:"min_image_size" yaml:"min_image_size"` // smallest stored width and height
}

// PersistConfig selects where album state is saved
type PersistConfig struct {
	Backend string      `koanf:"backend" yaml:"backend"` // memory|file|redis
	Dir     string      `koanf:"dir" yaml:"dir"`
	Redis   RedisConfig `koanf:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr" yaml:"addr"`
	Password  string `koanf:"password" yaml:"password,omitempty"`
	DB        int    `koanf:"db" yaml:"db"`
	KeyPrefix string `koanf:"key_prefix" yaml:"key_prefix"`
}

// GeometryConfig controls crop rendering and output encoding
type GeometryConfig struct {
	Format        string `koanf:"format" yaml:"format"`
	Quality       int    `koanf:"quality" yaml:"quality"`
	Lossless      bool   `koanf:"lossless" yaml:"lossless"`
	Origin        string `koanf:"origin" yaml:"origin"` // bounds|canvas
	Strict        bool   `koanf:"strict" yaml:"strict"`
	MaxCanvasSide int    `koanf:"max_canvas_side" yaml:"max_canvas_side"`
}

// FetchConfig limits remote image downloads
type FetchConfig struct {
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	MaxBytes  int64         `koanf:"max_bytes" yaml:"max_bytes"`
	UserAgent string        `koanf:"user_agent" yaml:"user_agent"`
}

// SuggestConfig configures crop suggestions
type SuggestConfig struct {
	Backend   string        `koanf:"backend" yaml:"backend"` // none|salient|ollama
	Aspect    string        `koanf:"aspect" yaml:"aspect"`
	OllamaURL string        `koanf:"ollama_url" yaml:"ollama_url"`
	Model     string        `koanf:"model" yaml:"model"`
	Prompt    string        `koanf:"prompt" yaml:"prompt,omitempty"` // empty uses the built-in prompt
	Zoom      float64       `koanf:"zoom" yaml:"zoom"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
}

// AuthConfig lists the static API tokens
type AuthConfig struct {
	Tokens []TokenConfig `koanf:"tokens" yaml:"tokens"`
}

type TokenConfig struct {
	Token  string `koanf:"token" yaml:"token"`
	UserID string `koanf:"user_id" yaml:"user_id"`
	Email  string `koanf:"email" yaml:"email,omitempty"`
	Name   string `koanf:"name" yaml:"name,omitempty"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8080",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  32 << 20,
		},
		Storage: StorageConfig{Root: "./data/photos", MinImageSize: 1},
		Persist: PersistConfig{
			Backend: PersistFile,
			Dir:     "./data/state",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Geometry: GeometryConfig{
			Format:        processing.FormatJPEG,
			Quality:       geometry.DefaultQuality,
			Origin:        "bounds",
			MaxCanvasSide: 16384,
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			MaxBytes:  50 << 20,
			UserAgent: "Photo-Album/1.0",
		},
		Suggest: SuggestConfig{
			Backend:   SuggestSalient,
			Aspect:    "16:9",
			OllamaURL: "http://localhost:11434",
			Model:     "llava",
			Zoom:      1,
			Timeout:   300 * time.Second,
		},
	}
}

// Load merges the YAML file at path (if it exists) and PHOTOALBUM_*
// environment variables over Default(). An empty path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults refills fields a file or variable set to their zero value
func applyDefaults(c *Config) {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = d.Server.BaseURL
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = d.Server.MaxUploadBytes
	}
	if c.Persist.Backend == "" {
		c.Persist.Backend = d.Persist.Backend
	}
	if c.Geometry.Format == "" {
		c.Geometry.Format = d.Geometry.Format
	}
	if c.Geometry.Quality == 0 {
		c.Geometry.Quality = d.Geometry.Quality
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = d.Fetch.Timeout
	}
	if c.Fetch.MaxBytes == 0 {
		c.Fetch.MaxBytes = d.Fetch.MaxBytes
	}
	if c.Suggest.Backend == "" {
		c.Suggest.Backend = d.Suggest.Backend
	}
	if c.Suggest.Zoom == 0 {
		c.Suggest.Zoom = d.Suggest.Zoom
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := processing.NormalizeFormat(c.Geometry.Format); err != nil {
		return fmt.Errorf("geometry.format: %w", err)
	}
	if c.Geometry.Quality < 1 || c.Geometry.Quality > 100 {
		return fmt.Errorf("geometry.quality must be between 1 and 100")
	}
	if _, err := geometry.ParseOrigin(c.Geometry.Origin); err != nil {
		return fmt.Errorf("geometry.origin: %w", err)
	}
	if c.Geometry.MaxCanvasSide < 0 {
		return fmt.Errorf("geometry.max_canvas_side must not be negative")
	}

	switch c.Persist.Backend {
	case PersistMemory, PersistFile:
	case PersistRedis:
		if c.Persist.Redis.Addr == "" {
			return fmt.Errorf("persist.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("persist.backend must be memory, file or redis, got %q", c.Persist.Backend)
	}

	switch c.Suggest.Backend {
	case SuggestNone, SuggestSalient:
	case SuggestOllama:
		if c.Suggest.OllamaURL == "" || c.Suggest.Model == "" {
			return fmt.Errorf("suggest.ollama_url and suggest.model are required for the ollama backend")
		}
	default:
		return fmt.Errorf("suggest.backend must be none, salient or ollama, got %q", c.Suggest.Backend)
	}
	if _, err := suggest.ParseAspect(c.Suggest.Aspect); err != nil {
		return fmt.Errorf("suggest.aspect: %w", err)
	}
	if c.Suggest.Zoom <= 0 || c.Suggest.Zoom > 1 {
		return fmt.Errorf("suggest.zoom must be in (0, 1]")
	}

	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must not be negative")
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.UserID == "" {
			return fmt.Errorf("auth.tokens[%d] needs token and user_id", i)
		}
	}
	return nil
}

// TransformerConfig converts the geometry section for geometry.NewWithConfig
func (c *Config) TransformerConfig() (geometry.Config, error) {
	origin, err := geometry.ParseOrigin(c.Geometry.Origin)
	if err != nil {
		return geometry.Config{}, err
	}
	format, err := processing.NormalizeFormat(c.Geometry.Format)
	if err != nil {
		return geometry.Config{}, err
	}
	bounds := geometry.BoundsClip
	if c.Geometry.Strict {
		bounds = geometry.BoundsStrict
	}
	return geometry.Config{
		Options: geometry.Options{
			Origin:        origin,
			Bounds:        bounds,
			MaxCanvasSide: c.Geometry.MaxCanvasSide,
		},
		Format:   format,
		Quality:  c.Geometry.Quality,
		Lossless: c.Geometry.Lossless,
	}, nil
}

// ProcessorConfig converts the fetch section for processing.NewProcessorWithConfig
func (c *Config) ProcessorConfig() processing.Config {
	pc := processing.DefaultConfig()
	pc.FetchTimeout = c.Fetch.Timeout
	pc.MaxFetchBytes = c.Fetch.MaxBytes
	if c.Fetch.UserAgent != "" {
		pc.UserAgent = c.Fetch.UserAgent
	}
	if c.Geometry.MaxCanvasSide > 0 {
		pc.MaxCanvasSide = c.Geometry.MaxCanvasSide
	}
	if c.Storage.MinImageSize > 0 {
		pc.MinImageSize = c.Storage.MinImageSize
	}
	return pc
}

// Accounts converts the configured tokens for auth.NewStaticTokens
func (c *Config) Accounts() []auth.Account {
	accounts := make([]auth.Account, 0, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		accounts = append(accounts, auth.Account{
			Token: t.Token,
			User:  types.User{ID: t.UserID, Email: t.Email, Name: t.Name},
		})
	}
	return accounts
}

// SaveToFile writes the configuration as YAML. The file may hold tokens, so
// it is only readable by its owner.
func (c *Config) SaveToFile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./photo-album.yaml"
	}
	return filepath.Join(home, ".config", "photo-album", "config.yaml")
}
