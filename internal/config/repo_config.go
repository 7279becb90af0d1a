package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/volleyhq/rally/internal/core"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParsing  = errors.New("config parsing failed")
)

// LoadRepoConfig loads and parses the .rally.yml file from a repository
// path. A missing file is not fatal: defaults are returned alongside
// ErrConfigNotFound so callers can tell the cases apart.
func LoadRepoConfig(repoPath string) (*core.RepoConfig, error) {
	configPath := filepath.Join(repoPath, ".rally.yml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return core.DefaultRepoConfig(), ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read .rally.yml: %w", err)
	}

	config := core.DefaultRepoConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
	}

	if config.Reviewer != "" {
		if _, err := core.ParseSupportedAgent(config.Reviewer); err != nil {
			return nil, fmt.Errorf("%w: reviewer: %w", ErrConfigParsing, err)
		}
	}
	if config.Reviewee != "" {
		if _, err := core.ParseSupportedAgent(config.Reviewee); err != nil {
			return nil, fmt.Errorf("%w: reviewee: %w", ErrConfigParsing, err)
		}
	}
	return config, nil
}
