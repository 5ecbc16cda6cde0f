package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/justDance-everybody/Demo-Echo-Backend/internal/perms"
)

// Init creates the base skeleton configuration file for an echomcp project.
func (d *DefaultLoader) Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	content := `servers = []`

	if err := os.WriteFile(path, []byte(content), perms.RegularFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Load reads the server definition file at path. The format is selected by
// extension: .yaml/.yml decode as YAML, anything else as TOML.
func (d *DefaultLoader) Load(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrConfigLoadFailed)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found, run: 'echomcp init'", ErrConfigLoadFailed)
		}
		return nil, fmt.Errorf("%w: failed to stat config file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read config file (%s): %w", ErrConfigLoadFailed, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: config file is empty (%s)", ErrConfigLoadFailed, path)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate config (%s): %w", ErrConfigLoadFailed, path, err)
	}

	cfg.configFilePath = path

	return cfg, nil
}

// Server returns the entry with the given name.
func (c *Config) Server(name string) (ServerEntry, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerEntry{}, false
}

// ListServers returns a copy of the configured server entries.
// This provides read-only access without exposing mutation of the underlying slice.
func (c *Config) ListServers() []ServerEntry {
	return slices.Clone(c.Servers)
}

// ServerNames returns all configured server names, sorted lexicographically.
// The ordering is the deterministic tie-break used for default target selection.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	slices.Sort(names)
	return names
}

// Environ prepares the environment for launching the entry's process.
// The entry's values override the ambient process environment. An error is
// returned when any RequiredEnv variable resolves to an empty value.
func (e *ServerEntry) Environ() ([]string, error) {
	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range e.Env {
		if strings.TrimSpace(v) != "" {
			envMap[k] = v
		}
	}

	var missing []string
	for _, name := range e.RequiredEnv {
		if strings.TrimSpace(envMap[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, NewErrMissingEnv(e.Name, missing)
	}

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result, nil
}

// validate orchestrates validation of configuration structure.
func (c *Config) validate() error {
	seen := map[string]struct{}{}

	for _, entry := range c.Servers {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("%w: server entry has empty name", ErrInvalidConfig)
		}
		if _, ok := seen[entry.Name]; ok {
			return fmt.Errorf("%w: duplicate server name '%s'", ErrInvalidConfig, entry.Name)
		}
		seen[entry.Name] = struct{}{}

		if strings.TrimSpace(entry.Command) == "" {
			return fmt.Errorf("%w: server '%s' has empty command", ErrInvalidConfig, entry.Name)
		}

		if err := entry.Timeouts.validate(); err != nil {
			return fmt.Errorf("%w: server '%s': %w", ErrInvalidConfig, entry.Name, err)
		}
	}

	return nil
}

func (t TimeoutConfig) validate() error {
	for name, v := range map[string]float64{
		"ping":       t.Ping,
		"warmup":     t.Warmup,
		"validation": t.Validation,
		"connection": t.Connection,
		"default":    t.Default,
	} {
		if v < 0 {
			return fmt.Errorf("timeout '%s' cannot be negative (got %v)", name, v)
		}
	}
	return nil
}
