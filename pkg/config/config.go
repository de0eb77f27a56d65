// Package config loads thread pool settings from YAML or JSON.
//
// Settings live under the "pool" key:
//
//	pool:
//	  size: 8
//	  name: ingest
//	  send_wait: spin          # block (default) or spin
//	  panic_policy: contain    # contain (default) or propagate
//	  lock_os_thread: false
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jzx17/gothreadpool/pkg/worker"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format is a configuration file format
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const (
	rootKey     = "pool"
	defaultSize = 4
)

var (
	ErrEmptyPath         = errors.New("config: empty path")
	ErrUnsupportedFormat = errors.New("config: unsupported format")
	ErrLoadFailed        = errors.New("config: load failed")
	ErrParseFailed       = errors.New("config: parse failed")
	ErrInvalid           = errors.New("config: invalid value")
)

// PoolConfig is the serializable subset of worker.Config
type PoolConfig struct {
	Size         int    `koanf:"size"`
	Name         string `koanf:"name"`
	SendWait     string `koanf:"send_wait"`
	PanicPolicy  string `koanf:"panic_policy"`
	LockOSThread bool   `koanf:"lock_os_thread"`
}

// Default returns the configuration used when a key is absent
func Default() *PoolConfig {
	return &PoolConfig{
		Size:        defaultSize,
		SendWait:    worker.SendWaitBlock.String(),
		PanicPolicy: "contain",
	}
}

// Load reads a configuration file, picking the parser from its extension
func Load(path string) (*PoolConfig, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return LoadBytes(data, format)
}

// LoadBytes parses configuration data. Empty data yields Default().
func LoadBytes(data []byte, format Format) (*PoolConfig, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if err := k.UnmarshalWithConf(rootKey, cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field
func (c *PoolConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalid, c.Size)
	}
	if _, err := worker.ParseSendWaitStrategy(c.SendWait); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := worker.ParsePanicPolicy(c.PanicPolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Options converts the configuration into pool options
func (c *PoolConfig) Options() ([]worker.Option, error) {
	sendWait, err := worker.ParseSendWaitStrategy(c.SendWait)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	policy, err := worker.ParsePanicPolicy(c.PanicPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	opts := []worker.Option{
		worker.WithName(c.Name),
		worker.WithSendWait(sendWait),
		worker.WithPanicPolicy(policy),
	}
	if c.LockOSThread {
		opts = append(opts, worker.WithLockOSThread())
	}
	return opts, nil
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %s", ErrUnsupportedFormat, ext)
	}
}

func parserFor(format Format) (koanf.Parser, error) {
	switch format {
	case FormatYAML:
		return yaml.Parser(), nil
	case FormatJSON:
		return json.Parser(), nil
	default:
		return nil, ErrUnsupportedFormat
	}
}
