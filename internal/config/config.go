package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional fsu configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Image    ImageConfig    `toml:"image"`
}

// DefaultsConfig holds persistent flag defaults. Nil means unset.
type DefaultsConfig struct {
	Recursive *bool   `toml:"recursive"`
	Verbose   *bool   `toml:"verbose"`
	Hardlinks *bool   `toml:"hardlinks"`
	Preserve  *bool   `toml:"preserve"`
	Verify    *bool   `toml:"verify"`
	BWLimit   *string `toml:"bwlimit"`
}

// ImageConfig holds defaults for attached images.
type ImageConfig struct {
	Compression *string `toml:"compression"`
	MaxSize     *string `toml:"max_size"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fsu", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file gives a zero Config;
// keys fsu does not know are an error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
