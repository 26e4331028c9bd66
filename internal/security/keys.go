package security

import (
	"fmt"
	"os"
	"strings"
)

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnvironment KeySource = "environment"
	KeySourceConfig      KeySource = "config"
	KeySourceNotSet      KeySource = "not_set"
)

// LoadedKey is an API key together with where it came from.
type LoadedKey struct {
	Value  string
	Source KeySource
	// EnvVar names the variable the key was read from, if any.
	EnvVar string
}

// String never prints more than the key's last four characters.
func (k *LoadedKey) String() string {
	if !k.IsSet() {
		return "LoadedKey{Source: not_set}"
	}
	return fmt.Sprintf("LoadedKey{Source: %s, Value: %s}", k.Source, MaskTail(k.Value))
}

// IsSet returns true if the key has a value.
func (k *LoadedKey) IsSet() bool {
	return k != nil && k.Value != ""
}

// GetAPIKey resolves a key with environment variables (in the given order)
// taking priority over the config file value.
func GetAPIKey(envVarNames []string, configValue string) *LoadedKey {
	for _, name := range envVarNames {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return &LoadedKey{Value: value, Source: KeySourceEnvironment, EnvVar: name}
		}
	}
	if configValue != "" {
		return &LoadedKey{Value: configValue, Source: KeySourceConfig}
	}
	return &LoadedKey{Source: KeySourceNotSet}
}

// KeyEnvVars lists the environment variables consulted for a backend family.
func KeyEnvVars(backend string) []string {
	switch backend {
	case "gemini":
		return []string{"FORGE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"}
	case "openai":
		return []string{"FORGE_API_KEY", "OPENAI_API_KEY"}
	default:
		return []string{"FORGE_API_KEY"}
	}
}

// ValidateKeyFormat rejects empty and obvious placeholder keys.
func ValidateKeyFormat(key string) error {
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if len(key) < 10 {
		return fmt.Errorf("API key too short (expected at least 10 characters, got %d)", len(key))
	}

	lower := strings.ToLower(key)
	for _, placeholder := range []string{"your-api-key", "your_api_key", "sk-xxxx", "<insert-key>", "changeme"} {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("API key appears to be a placeholder: %s", placeholder)
		}
	}
	return nil
}
