package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/odplab/portalstats/internal/core/report"
)

// Config is the top-level application config plus the resolved report
// definitions.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Paths   PathsConfig   `koanf:"paths"`
	Reports ReportsConfig `koanf:"reports"`
	Server  ServerConfig  `koanf:"server"`

	// Definitions is populated by Load after parsing definition files.
	Definitions []report.Definition `koanf:"-"`
}

type APIConfig struct {
	BaseURL    string `koanf:"base_url"`
	Token      string `koanf:"token"` // environment only; never put this in the config file
	PageSize   int    `koanf:"page_size"`
	MaxRecords int    `koanf:"max_records"` // total-count threshold per paginated walk; 0 = unbounded
}

type PathsConfig struct {
	StateDir       string `koanf:"state_dir"`
	OutDir         string `koanf:"out_dir"`
	DefinitionsDir string `koanf:"definitions_dir"`
	ArchiveFile    string `koanf:"archive_file"`
	LockFile       string `koanf:"lock_file"`
}

type ReportsConfig struct {
	Months             int  `koanf:"months"` // dashboard series length
	RequireDefinitions bool `koanf:"require_definitions"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	Mode string `koanf:"mode"` // debug | release
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q", c.API.BaseURL)
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0")
	}
	if c.API.MaxRecords < 0 {
		return fmt.Errorf("api.max_records must be >= 0")
	}

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if strings.TrimSpace(c.Paths.OutDir) == "" {
		return fmt.Errorf("paths.out_dir is required")
	}
	if strings.TrimSpace(c.Paths.DefinitionsDir) == "" {
		return fmt.Errorf("paths.definitions_dir is required")
	}

	if c.Reports.Months < 1 || c.Reports.Months > 12 {
		return fmt.Errorf("reports.months must be 1-12, got %d", c.Reports.Months)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	return nil
}

// LockPath returns the run lockfile location, defaulting into the state
// directory.
func (c *Config) LockPath() string {
	if c.Paths.LockFile != "" {
		return c.Paths.LockFile
	}
	return filepath.Join(c.Paths.StateDir, "portalstats.lock")
}

// Load parses config from file + env, validates it, then loads report
// definitions. The API token comes from the environment only
// (PORTAL_API__TOKEN, or the legacy CKAN_API_TOKEN), never from the file.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"api.base_url":                "https://open.canada.ca/data",
		"api.token":                   "",
		"api.page_size":               1000,
		"api.max_records":             0,
		"paths.state_dir":             "./state",
		"paths.out_dir":               "./docs",
		"paths.definitions_dir":       "./config/reports",
		"paths.archive_file":          "./docs/archive.zip",
		"paths.lock_file":             "",
		"reports.months":              12,
		"reports.require_definitions": true,
		"server.host":                 "127.0.0.1",
		"server.port":                 8080,
		"server.mode":                 "release",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("PORTAL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PORTAL_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.API.Token == "" {
		cfg.API.Token = os.Getenv("CKAN_API_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := report.NewFileSystemDefinitionRepository(cfg.Paths.DefinitionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load report definitions: %w", err)
	}
	defs := repo.Definitions()
	if cfg.Reports.RequireDefinitions && len(defs) == 0 {
		return nil, fmt.Errorf("no report definitions found in %q", cfg.Paths.DefinitionsDir)
	}
	cfg.Definitions = defs

	return &cfg, nil
}
