package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stajs/SpecFlow.NetCore/pkg/common"
)

// FileName is the base name searched for when no config path is given
const FileName = "specflow-netcore"

// EnvPrefix is the prefix of environment variables overriding config keys
const EnvPrefix = "SPECFLOW_NETCORE"

// Config represents the tool settings. These are not the SpecFlow app.config.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Generator GeneratorConfig `yaml:"generator" mapstructure:"generator"`
	Project   ProjectConfig   `yaml:"project" mapstructure:"project"`
	Tracing   TracingConfig   `yaml:"tracing" mapstructure:"tracing"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	OutputFile string `yaml:"output_file" mapstructure:"output_file"`
}

// GeneratorConfig controls how specflow.exe is run
type GeneratorConfig struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	WaitDelay time.Duration `yaml:"wait_delay" mapstructure:"wait_delay"`
	// Launcher is a command prefix such as "mono"
	Launcher string `yaml:"launcher" mapstructure:"launcher"`
}

// LauncherArgs splits Launcher into program and arguments
func (g GeneratorConfig) LauncherArgs() []string {
	return strings.Fields(g.Launcher)
}

// ProjectConfig holds project reading configuration
type ProjectConfig struct {
	DescriptorCacheSize int    `yaml:"descriptor_cache_size" mapstructure:"descriptor_cache_size"`
	EnvFile             string `yaml:"env_file" mapstructure:"env_file"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter      string  `yaml:"exporter" mapstructure:"exporter"`
	Endpoint      string  `yaml:"endpoint" mapstructure:"endpoint"`
	SamplingRatio float64 `yaml:"sampling_ratio" mapstructure:"sampling_ratio"`
}

// WatchConfig holds watch mode configuration
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// DefaultConfig returns the default configuration values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Generator: GeneratorConfig{
			Timeout:   10 * time.Minute,
			WaitDelay: 5 * time.Second,
		},
		Project: ProjectConfig{
			DescriptorCacheSize: 64,
			EnvFile:             ".env",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "stdout",
			SamplingRatio: 1.0,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// setDefaults registers every key so that environment overrides apply even when the
// config file does not mention the key
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.output_file", c.Logging.OutputFile)
	v.SetDefault("generator.timeout", c.Generator.Timeout)
	v.SetDefault("generator.wait_delay", c.Generator.WaitDelay)
	v.SetDefault("generator.launcher", c.Generator.Launcher)
	v.SetDefault("project.descriptor_cache_size", c.Project.DescriptorCacheSize)
	v.SetDefault("project.env_file", c.Project.EnvFile)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.exporter", c.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.sampling_ratio", c.Tracing.SamplingRatio)
	v.SetDefault("watch.debounce", c.Watch.Debounce)
}

// LoadConfig loads configuration from files and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	setDefaults(v, config)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/specflow-netcore")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to read config file", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if used := v.ConfigFileUsed(); used != "" {
		if err := ValidateFile(used); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, common.WrapFixerError(common.ErrCodeConfigInvalid, "failed to unmarshal config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, common.WrapFixerError(common.ErrCodeConfigInvalid, "invalid configuration", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.YAML()
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// YAML renders the configuration
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("generator timeout must be positive")
	}

	if c.Generator.WaitDelay < 0 {
		return fmt.Errorf("generator wait delay cannot be negative")
	}

	if c.Project.DescriptorCacheSize < 1 {
		return fmt.Errorf("descriptor cache size must be at least 1")
	}

	validExporters := map[string]bool{
		"stdout": true, "otlp": true, "jaeger": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid tracing exporter: %s (must be stdout, otlp, or jaeger)", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		return fmt.Errorf("tracing sampling ratio must be between 0 and 1")
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch debounce cannot be negative")
	}

	return nil
}
