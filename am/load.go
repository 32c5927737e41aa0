package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"github.com/teranos/specix/errors"
)

// EnvPrefix prefixes every environment override (SPECIX_FETCH_MAX_BYTES, ...)
const EnvPrefix = "SPECIX"

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the specix configuration using Viper.
// The result is cached until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViperLocked())
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViperLocked()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path on top of the
// defaults, ignoring system, user and environment sources
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing and reload)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

func initViperLocked() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}
	viperInstance = newViper(configPaths())
	return viperInstance
}

// newViper builds a Viper instance from defaults, the given config files in
// precedence order, and the environment
func newViper(paths []configPath) *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindLegacyEnvVars(v)

	SetDefaults(v)

	sources := newSourceMap(v)
	mergeConfigFiles(v, paths, sources)
	sources.applyEnv(v)
	setSources(sources)

	return v
}

// configPath is one candidate config file and the source it represents
type configPath struct {
	path   string
	source ConfigSource
}

// configPaths lists config files in precedence order (lowest first)
func configPaths() []configPath {
	paths := []configPath{
		{path: "/etc/specix/am.toml", source: SourceSystem},
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, configPath{
			path:   filepath.Join(homeDir, ".specix", "am.toml"),
			source: SourceUser,
		})
	}

	if project := findProjectConfig(); project != "" {
		paths = append(paths, configPath{path: project, source: SourceProject})
	}

	return paths
}

// findProjectConfig searches for am.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if fileExists(amPath) {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in the order given.
// MergeConfigMap keeps file values below environment overrides.
func mergeConfigFiles(v *viper.Viper, paths []configPath, sources sourceMap) {
	for _, p := range paths {
		if !fileExists(p.path) {
			continue
		}

		fileViper := viper.New()
		fileViper.SetConfigFile(p.path)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}

		settings := fileViper.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		for _, key := range fileViper.AllKeys() {
			sources[key] = SourceInfo{Source: p.source, Path: p.path}
		}
	}
}

// envName returns the prefixed environment variable for a config key
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	return GetViper().GetBool(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	return GetViper().GetInt(key)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
