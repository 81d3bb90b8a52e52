package authfetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the environment prefix used by the commands, as in
// AUTHFETCH_REFRESH_TIMEOUT=5s.
const DefaultEnvPrefix = "AUTHFETCH"

// LoadConfigFile reads a YAML file over DefaultConfig. Unknown keys are an
// error. The result is not validated; Builder.Build does that.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("authfetch: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := defaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("authfetch: parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables named
// <prefix>_<FIELD>, for example AUTHFETCH_RATE_LIMIT_RPS. Unset variables
// leave the current value in place.
func (c *Config) ApplyEnv(prefix string) error {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	if err := envconfig.Process(prefix, c); err != nil {
		return fmt.Errorf("authfetch: apply env: %w", err)
	}
	return nil
}
