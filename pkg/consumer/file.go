package consumer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/backkem/feedconsumer/pkg/transport"
)

// fileConfig is the on-disk form of Config. Unset keys leave the base
// configuration untouched.
type fileConfig struct {
	Host             *string  `yaml:"host" toml:"host"`
	Port             *string  `yaml:"port" toml:"port"`
	Interface        *string  `yaml:"interface" toml:"interface"`
	RunTime          *string  `yaml:"run_time" toml:"run_time"`
	Service          *string  `yaml:"service" toml:"service"`
	User             *string  `yaml:"user" toml:"user"`
	Application      *string  `yaml:"application" toml:"application"`
	Items            []string `yaml:"items" toml:"items"`
	DictionaryDir    *string  `yaml:"dictionary_dir" toml:"dictionary_dir"`
	PingTimeout      *string  `yaml:"ping_timeout" toml:"ping_timeout"`
	PollTimeout      *string  `yaml:"poll_timeout" toml:"poll_timeout"`
	ConnectTimeout   *string  `yaml:"connect_timeout" toml:"connect_timeout"`
	InitPolicy       *string  `yaml:"init_policy" toml:"init_policy"`
	MaxOutputBuffers *int     `yaml:"max_output_buffers" toml:"max_output_buffers"`
	MaxFragmentSize  *int     `yaml:"max_fragment_size" toml:"max_fragment_size"`
	TLS              *fileTLS `yaml:"tls" toml:"tls"`
}

type fileTLS struct {
	Enabled    *bool   `yaml:"enabled" toml:"enabled"`
	CAFile     *string `yaml:"ca_file" toml:"ca_file"`
	Insecure   *bool   `yaml:"insecure" toml:"insecure"`
	ServerName *string `yaml:"server_name" toml:"server_name"`
}

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) config file and
// overlays it onto DefaultConfig. ${VAR} references are expanded from the
// environment first.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys set in the file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return fmt.Errorf("%w: invalid YAML in %s: %w", ErrConfigFile, path, err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &raw); err != nil {
			return fmt.Errorf("%w: invalid TOML in %s: %w", ErrConfigFile, path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported extension %q", ErrConfigFile, ext)
	}
	return raw.apply(c)
}

func (f *fileConfig) apply(c *Config) error {
	setString(&c.Host, f.Host)
	setString(&c.Port, f.Port)
	setString(&c.Interface, f.Interface)
	setString(&c.ServiceName, f.Service)
	setString(&c.UserName, f.User)
	setString(&c.ApplicationName, f.Application)
	setString(&c.DictionaryDir, f.DictionaryDir)
	if f.Items != nil {
		c.Items = append([]string(nil), f.Items...)
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"run_time", f.RunTime, &c.RunTime},
		{"ping_timeout", f.PingTimeout, &c.PingTimeout},
		{"poll_timeout", f.PollTimeout, &c.PollTimeout},
		{"connect_timeout", f.ConnectTimeout, &c.ConnectTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.src))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrConfigFile, d.name, err)
		}
		*d.dst = v
	}

	if f.InitPolicy != nil {
		p, ok := transport.ParseInitPolicy(strings.TrimSpace(*f.InitPolicy))
		if !ok {
			return fmt.Errorf("%w: unknown init_policy %q", ErrConfigFile, *f.InitPolicy)
		}
		c.InitPolicy = p
	}
	if f.MaxOutputBuffers != nil {
		c.MaxOutputBuffers = *f.MaxOutputBuffers
	}
	if f.MaxFragmentSize != nil {
		c.MaxFragmentSize = *f.MaxFragmentSize
	}

	if f.TLS != nil {
		if f.TLS.Enabled != nil {
			c.TLS.Enabled = *f.TLS.Enabled
		}
		if f.TLS.Insecure != nil {
			c.TLS.Insecure = *f.TLS.Insecure
		}
		setString(&c.TLS.CAFile, f.TLS.CAFile)
		setString(&c.TLS.ServerName, f.TLS.ServerName)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}
