// Package config loads the proxy configuration file. Values resolve in
// three layers: built-in defaults, then the YAML file, then command-line
// flags (applied by the caller).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults used when neither the file nor a flag says otherwise.
const (
	DefaultEndpoint   = "http://localhost:8000/ga4gh/tes"
	DefaultDockerPath = "/usr/bin/docker"
	DefaultFTPHost    = "localhost"
	DefaultFTPPort    = 2121
	DefaultFTPListen  = "::"
)

// FTP configures the volume-serving endpoint. Public host/port are what
// the backend connects to and may differ from the listen address when the
// proxy sits behind NAT. Concurrent invocations on the same host must use
// distinct listen ports.
type FTP struct {
	PublicHost string `yaml:"public_host"`
	PublicPort int    `yaml:"public_port"`
	ListenIP   string `yaml:"listen_ip"`
	ListenPort int    `yaml:"listen_port"`
}

// Config is the on-disk configuration of the proxy.
type Config struct {
	// Endpoint is the TES service the run subcommand submits to.
	Endpoint string `yaml:"endpoint"`
	// Docker is the local binary unrecognized subcommands delegate to.
	Docker string `yaml:"docker"`
	FTP    FTP    `yaml:"ftp"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Docker:   DefaultDockerPath,
		FTP: FTP{
			PublicHost: DefaultFTPHost,
			PublicPort: DefaultFTPPort,
			ListenIP:   DefaultFTPListen,
			ListenPort: DefaultFTPPort,
		},
	}
}

// Path returns the default configuration file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(dir, "docker-tes-proxy", "config.yaml"), nil
}

// Load reads the configuration at path, or the default location when path
// is empty. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = Path(); err != nil {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the host:port the FTP daemon binds.
func (f FTP) ListenAddr() string {
	return fmt.Sprintf("[%s]:%d", f.ListenIP, f.ListenPort)
}
