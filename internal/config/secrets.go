package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretStore resolves secrets that are not set in the environment.
type secretStore interface {
	Get(key string) (string, error)
}

// secretsFile reads secrets from a 0600 JSON object keyed by config key,
// e.g. {"llm.api_key": "..."}. It is never written by the config command.
type secretsFile struct {
	path string
}

func defaultSecretsFile() secretsFile {
	return secretsFile{path: filepath.Join(defaultDataDir(), "secrets.json")}
}

func (s secretsFile) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return val, nil
}
