package am

import (
	"os"
	"sort"
	"sync"

	"github.com/spf13/viper"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/specix/am.toml
	SourceUser        ConfigSource = "user"        // ~/.specix/am.toml
	SourceProject     ConfigSource = "project"     // am.toml found upward from cwd
	SourceEnvironment ConfigSource = "environment" // SPECIX_* or legacy env vars
)

// SourceInfo records the winning source for one key
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or env var name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

type sourceMap map[string]SourceInfo

var (
	sourcesMu     sync.RWMutex
	activeSources sourceMap
)

func newSourceMap(v *viper.Viper) sourceMap {
	sources := make(sourceMap)
	for _, key := range v.AllKeys() {
		sources[key] = SourceInfo{Source: SourceDefault}
	}
	return sources
}

// applyEnv marks keys overridden by the environment, checking the prefixed
// name before the legacy one
func (s sourceMap) applyEnv(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		names := []string{envName(key)}
		if legacy, ok := legacyEnvVars[key]; ok {
			names = append(names, legacy)
		}
		for _, name := range names {
			if _, set := os.LookupEnv(name); set {
				s[key] = SourceInfo{Source: SourceEnvironment, Path: name}
				break
			}
		}
	}
}

func setSources(s sourceMap) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	activeSources = s
}

// Introspect returns every effective setting with the source it came from,
// sorted by key
func Introspect() []SettingInfo {
	v := GetViper()

	sourcesMu.RLock()
	defer sourcesMu.RUnlock()

	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info, ok := activeSources[key]
		if !ok {
			info = SourceInfo{Source: SourceDefault}
		}
		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      v.Get(key),
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return settings
}
