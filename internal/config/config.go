// Package config builds the helper's settings from defaults, an optional TOML
// file, .env files and RC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/remoteclauding/rcboot/internal/artifact"
	"github.com/remoteclauding/rcboot/internal/detect"
	"github.com/remoteclauding/rcboot/internal/paths"
	"github.com/remoteclauding/rcboot/internal/platform"
	"github.com/remoteclauding/rcboot/internal/runtime"
	"github.com/remoteclauding/rcboot/internal/supervisor"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RC"

// Duration is a time.Duration written as "2s" in TOML and the environment.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Settings are the tunables of the helper.
type Settings struct {
	ConfigDir       string   `toml:"config_dir" envconfig:"CONFIG_DIR"`
	AppName         string   `toml:"app_name" envconfig:"APP_NAME"`
	CLIName         string   `toml:"cli_name" envconfig:"CLI_NAME"`
	NodeVersion     string   `toml:"node_version" envconfig:"NODE_VERSION"`
	DistBaseURL     string   `toml:"dist_base_url" envconfig:"DIST_BASE_URL"`
	RelayURL        string   `toml:"relay_url" envconfig:"RELAY_URL"`
	HealthURL       string   `toml:"health_url" envconfig:"HEALTH_URL"`
	HealthTimeout   Duration `toml:"health_timeout" envconfig:"HEALTH_TIMEOUT"`
	RelayTimeout    Duration `toml:"relay_timeout" envconfig:"RELAY_TIMEOUT"`
	DownloadRetries int      `toml:"download_retries" envconfig:"DOWNLOAD_RETRIES"`
	ResourceDir     string   `toml:"resource_dir" envconfig:"RESOURCE_DIR"`
	DevPackageDir   string   `toml:"dev_package_dir" envconfig:"DEV_PACKAGE_DIR"`
	MinNodeVersion  string   `toml:"min_node_version" envconfig:"MIN_NODE_VERSION"`
	LogLevel        string   `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogJSON         bool     `toml:"log_json" envconfig:"LOG_JSON"`
	ListenAddr      string   `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		AppName:        paths.DefaultApp,
		CLIName:        runtime.DefaultCLIName,
		NodeVersion:    artifact.DefaultNodeVersion,
		DistBaseURL:    artifact.DefaultBaseURL,
		RelayURL:       supervisor.DefaultRelayURL,
		HealthURL:      supervisor.DefaultHealthURL,
		HealthTimeout:  Duration(supervisor.DefaultHealthTimeout),
		RelayTimeout:   Duration(supervisor.DefaultRelayTimeout),
		MinNodeVersion: detect.DefaultMinNodeVersion,
		LogLevel:       "info",
		ListenAddr:     "127.0.0.1:9681",
	}
}

// Options control where Load looks.
type Options struct {
	// File is an explicit settings file; it must exist. When empty the
	// settings file in the config directory is used if present.
	File string
	// SkipDotEnv disables .env loading.
	SkipDotEnv bool
	Platform   platform.Platform
	Env        platform.Env
}

// Load layers defaults, the TOML file, .env files and the environment.
func Load(opts Options) (Settings, string, error) {
	if opts.Platform == nil {
		opts.Platform = platform.Host()
	}
	if opts.Env.Getenv == nil {
		opts.Env = platform.HostEnv()
	}
	if !opts.SkipDotEnv {
		LoadDotEnvDefault()
	}

	s := Default()
	dirOverride := opts.Env.Getenv(EnvPrefix + "_CONFIG_DIR")
	appName := opts.Env.Getenv(EnvPrefix + "_APP_NAME")
	file := opts.File
	if file == "" {
		name := appName
		if name == "" {
			name = s.AppName
		}
		l := paths.Resolve(opts.Platform, opts.Env, name, dirOverride)
		file = l.Settings()
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			file = ""
		}
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return s, "", fmt.Errorf("read settings: %w", err)
		}
		if err := toml.Unmarshal(b, &s); err != nil {
			return s, "", fmt.Errorf("parse %s: %w", filepath.Base(file), err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return s, file, fmt.Errorf("environment: %w", err)
	}
	// the layout must stay where the settings file was looked up
	if s.ConfigDir == "" {
		s.ConfigDir = dirOverride
	}
	if appName != "" && s.AppName == Default().AppName {
		s.AppName = appName
	}
	return s, file, s.Validate()
}

// Validate rejects settings no component can work with.
func (s Settings) Validate() error {
	var errs []error
	if s.DownloadRetries < 0 {
		errs = append(errs, fmt.Errorf("download_retries must not be negative"))
	}
	if s.HealthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("health_timeout must be positive"))
	}
	if s.RelayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("relay_timeout must be positive"))
	}
	if !strings.HasPrefix(s.NodeVersion, "v") {
		errs = append(errs, fmt.Errorf("node_version %q must start with v", s.NodeVersion))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// Layout resolves the config directory layout for these settings.
func (s Settings) Layout(p platform.Platform, env platform.Env) paths.Layout {
	return paths.Resolve(p, env, s.AppName, s.ConfigDir)
}

// Resources returns the resource directory, defaulting to the directory of
// the running executable.
func (s Settings) Resources() string {
	if s.ResourceDir != "" {
		return s.ResourceDir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

