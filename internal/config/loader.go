package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"forge/internal/security"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// ErrMissingAuth is returned when no API key is configured for the backend.
var ErrMissingAuth = errors.New("missing authentication: set FORGE_API_KEY (or GEMINI_API_KEY / OPENAI_API_KEY), or api.api_key in the config file")

// ValidationError reports a config file that does not match the schema or
// cannot be parsed.
type ValidationError struct {
	File string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.File, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LoadOptions selects the project and the optional explicit config file.
type LoadOptions struct {
	Root string
	// ConfigFile is merged after the user and project files.
	ConfigFile string
	// UserFile overrides the user config location; empty uses the default.
	UserFile string
	// SkipUserFile ignores the user config entirely.
	SkipUserFile bool
}

// Load merges, in order: defaults, the user file, <root>/.forge/config.yaml,
// the explicit file, and environment variables. Missing user and project
// files are skipped; a missing explicit file is an error.
func Load(opts LoadOptions) (*Config, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Root = absRoot

	var layers []string
	if !opts.SkipUserFile {
		userFile := opts.UserFile
		if userFile == "" {
			userFile = UserConfigPath()
		}
		if userFile != "" {
			layers = append(layers, userFile)
		}
	}
	layers = append(layers, ProjectConfigPath(absRoot))

	for _, path := range layers {
		if err := loadFromFile(cfg, path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		cfg.Sources = append(cfg.Sources, path)
	}

	if opts.ConfigFile != "" {
		if err := loadFromFile(cfg, opts.ConfigFile); err != nil {
			return nil, err
		}
		cfg.Sources = append(cfg.Sources, opts.ConfigFile)
	}

	loadFromEnv(cfg)
	return cfg, nil
}

// UserConfigPath returns $XDG_CONFIG_HOME/forge/config.yaml, falling back to
// ~/.config/forge/config.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "forge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "forge", "config.yaml")
}

// ProjectConfigPath returns the project-level config file location.
func ProjectConfigPath(root string) string {
	return filepath.Join(root, ".forge", "config.yaml")
}

// loadFromFile validates a YAML file against the schema and merges it into cfg.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Expand environment variables in the config file
	expanded := []byte(os.ExpandEnv(string(data)))

	if err := validate(expanded); err != nil {
		return &ValidationError{File: path, Err: err}
	}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return &ValidationError{File: path, Err: err}
	}
	return nil
}

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile("config.schema.json")
	})
	return compiledSchema, schemaErr
}

// validate converts YAML to JSON and checks it against the embedded schema.
func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil // empty file
	}

	encoded, err := json.Marshal(normalize(doc))
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	var value any
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return err
	}

	s, err := schema()
	if err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return s.Validate(value)
}

// normalize makes a decoded YAML tree JSON-encodable: map keys become
// strings and null values are dropped, so an empty section is allowed.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// loadFromEnv applies FORGE_* overrides. API keys are resolved separately by
// ResolveKey so the key source can be reported.
func loadFromEnv(cfg *Config) {
	if backend := os.Getenv("FORGE_BACKEND"); backend != "" {
		cfg.API.Backend = backend
	}
	if model := os.Getenv("FORGE_MODEL"); model != "" {
		cfg.API.Model = model
	}
	if baseURL := os.Getenv("FORGE_BASE_URL"); baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	if level := os.Getenv("FORGE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks settings that only make sense once all layers are merged.
func (c *Config) Validate() error {
	switch c.API.Backend {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown backend %q (expected gemini or openai)", c.API.Backend)
	}
	if c.Build.MaxAttempts < 1 {
		return fmt.Errorf("build.max_attempts must be at least 1")
	}
	return nil
}

// ValidateAuth checks that an API key is available and plausible.
func (c *Config) ValidateAuth() (*security.LoadedKey, error) {
	key := c.ResolveKey()
	if !key.IsSet() {
		return nil, ErrMissingAuth
	}
	if err := security.ValidateKeyFormat(key.Value); err != nil {
		return nil, fmt.Errorf("invalid %s API key from %s: %w", c.API.Backend, key.Source, err)
	}
	return key, nil
}
