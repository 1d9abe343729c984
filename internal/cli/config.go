// This file implements config.yaml loading.
package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/quotebot/internal/paths"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "QUOTEBOT"
)

const configHeader = `# quotebot configuration
# Every key can be overridden from the environment, e.g.
# QUOTEBOT_EMBEDDING_API_KEY or QUOTEBOT_SELECTOR_MAX_DISTANCE.

`

// loadConfig reads config.yaml from configDir over the built-in defaults,
// applies QUOTEBOT_* environment overrides, and resolves the data
// directory. It writes a default config.yaml on first run.
func loadConfig(configDir, dataDirFlag string) (types.Config, error) {
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return types.Config{}, fmt.Errorf("ensure default config: %w", err)
	}

	defaults, err := defaultConfigYAML()
	if err != nil {
		return types.Config{}, err
	}
	v := viper.New()
	v.SetConfigType(configFileType)
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return types.Config{}, fmt.Errorf("read defaults: %w", err)
	}
	v.SetConfigName(configFileName)
	v.AddConfigPath(configDir)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.DataDir, err = paths.ResolveDataDir(dataDirFlag, v.GetString("data_dir"))
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ensureDefaultConfigFile creates configDir and a default config.yaml in it
// unless the file already exists.
func ensureDefaultConfigFile(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	data, err := defaultConfigYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(configHeader), data...), 0o644)
}

func defaultConfigYAML() ([]byte, error) {
	data, err := yaml.Marshal(types.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return data, nil
}
