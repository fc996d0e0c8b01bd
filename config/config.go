// Package config resolves canvasflow settings from the config file, the
// environment and command-line flags. Priority: flags > env vars > config
// file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by Resolve.
const (
	EnvConfig        = "CANVASFLOW_CONFIG"
	EnvModelsDir     = "CANVASFLOW_MODELS_DIR"
	EnvCredentialsDB = "CANVASFLOW_CREDENTIALS_DB"
	EnvPluginsDir    = "CANVASFLOW_PLUGINS_DIR"
	EnvHistoryDB     = "CANVASFLOW_HISTORY_DB"
	EnvOTLPEndpoint  = "CANVASFLOW_OTLP_ENDPOINT"
	envAPIKeyPrefix  = "CANVASFLOW_API_KEY_"
)

// Settings is the resolved configuration.
type Settings struct {
	// Dir is the canvasflow home, ~/.canvasflow by default.
	Dir             string            `json:"-"`
	ModelsDirectory string            `json:"models_directory,omitempty"`
	CredentialsDB   string            `json:"credentials_db,omitempty"`
	PluginsDir      string            `json:"plugins_dir,omitempty"`
	HistoryDB       string            `json:"history_db,omitempty"`
	OTLPEndpoint    string            `json:"otlp_endpoint,omitempty"`
	APIKeys         map[string]string `json:"api_keys,omitempty"`
}

// Flags carries command-line overrides. Empty fields do not override.
type Flags struct {
	ModelsDir     string
	CredentialsDB string
	PluginsDir    string
	HistoryDB     string
	OTLPEndpoint  string
	APIKeys       map[string]string
}

// Resolve builds Settings from defaults, the config file, environment
// variables and flags.
func Resolve(flags Flags) (Settings, error) {
	dir := defaultDir()
	s := Settings{
		Dir:             dir,
		ModelsDirectory: filepath.Join(dir, "models"),
		CredentialsDB:   filepath.Join(dir, "credentials.db"),
		APIKeys:         map[string]string{},
	}

	// 1. Config file (lowest priority)
	file, err := loadConfigFile(dir)
	if err != nil {
		return Settings{}, err
	}
	if file != nil {
		merge(&s, Flags{
			ModelsDir:     file.ModelsDirectory,
			CredentialsDB: file.CredentialsDB,
			PluginsDir:    file.PluginsDir,
			HistoryDB:     file.HistoryDB,
			OTLPEndpoint:  file.OTLPEndpoint,
			APIKeys:       file.APIKeys,
		})
	}

	// 2. Environment
	env := Flags{
		ModelsDir:     os.Getenv(EnvModelsDir),
		CredentialsDB: os.Getenv(EnvCredentialsDB),
		PluginsDir:    os.Getenv(EnvPluginsDir),
		HistoryDB:     os.Getenv(EnvHistoryDB),
		OTLPEndpoint:  os.Getenv(EnvOTLPEndpoint),
		APIKeys:       map[string]string{},
	}
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envAPIKeyPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, envAPIKeyPrefix)
		env.APIKeys[strings.ReplaceAll(strings.ToLower(name), "_", "-")] = val
	}
	merge(&s, env)

	// 3. Flags (highest priority)
	merge(&s, flags)

	s.ModelsDirectory = expandHome(s.ModelsDirectory)
	s.CredentialsDB = expandHome(s.CredentialsDB)
	s.PluginsDir = expandHome(s.PluginsDir)
	s.HistoryDB = expandHome(s.HistoryDB)
	return s, nil
}

func merge(s *Settings, o Flags) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&s.ModelsDirectory, o.ModelsDir)
	set(&s.CredentialsDB, o.CredentialsDB)
	set(&s.PluginsDir, o.PluginsDir)
	set(&s.HistoryDB, o.HistoryDB)
	set(&s.OTLPEndpoint, o.OTLPEndpoint)
	for name, key := range o.APIKeys {
		if strings.TrimSpace(key) != "" {
			s.APIKeys[name] = strings.TrimSpace(key)
		}
	}
}

// ConfigPath returns the config file location: $CANVASFLOW_CONFIG or
// <dir>/config.json.
func ConfigPath(dir string) string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(dir, "config.json")
}

// loadConfigFile reads the config file. Returns nil, nil if the file
// doesn't exist.
func loadConfigFile(dir string) (*Settings, error) {
	path := ConfigPath(dir)
	data, err := os.ReadFile(path) // #nosec G304 -- path from well-known config location
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canvasflow"
	}
	return filepath.Join(home, ".canvasflow")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ParseKeyFlags parses --api-key flag values ("service=key") into a map.
func ParseKeyFlags(flags []string) (map[string]string, error) {
	result := make(map[string]string, len(flags))
	for _, flag := range flags {
		name, key, ok := strings.Cut(flag, "=")
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("invalid api-key format %q: expected service=key", flag)
		}
		result[name] = key
	}
	return result, nil
}
