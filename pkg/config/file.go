package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML configuration. Values of the form ${NAME} are
// expanded from the environment before parsing.
type File struct {
	Connectors map[string]Connector `yaml:"connectors"`
}

// Connector holds the construction-time settings of one adapter. Any field
// left empty falls back to the adapter's environment variables.
type Connector struct {
	Enabled    *bool             `yaml:"enabled"`
	BaseURL    string            `yaml:"base_url"`
	APIVersion string            `yaml:"api_version"`
	Token      string            `yaml:"token"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	APIKey     string            `yaml:"api_key"`
	Timeout    time.Duration     `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
	Query      map[string]string `yaml:"query"`
	Settings   map[string]string `yaml:"settings"`
}

// IsEnabled treats an absent enabled key as true.
func (c Connector) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Setting returns settings[key] or fallback.
func (c Connector) Setting(key, fallback string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Connector returns the named section, or the zero value when absent.
func (f *File) Connector(name string) Connector {
	if f == nil || f.Connectors == nil {
		return Connector{}
	}
	return f.Connectors[name]
}

// LoadFile reads path. An empty path or a missing file yields an empty File
// so the process runs on environment configuration alone.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config.LoadFile read: %w", err)
	}
	return ParseFile(raw)
}

// ParseFile parses YAML content after environment expansion.
func ParseFile(raw []byte) (*File, error) {
	expanded := os.Expand(string(raw), os.Getenv)
	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("config.ParseFile unmarshal: %w", err)
	}
	if f.Connectors == nil {
		f.Connectors = map[string]Connector{}
	}
	return &f, nil
}
