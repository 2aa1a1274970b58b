package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-io/tidemark/internal/dataset"
)

// Config is the top-level application config plus the loaded data set
// definitions.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	DataSets DataSetsConfig `koanf:"data_sets"`

	// Definitions is populated by Load from the data set config directory.
	Definitions []dataset.Config `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend  string         `koanf:"backend"` // postgres | document
	Postgres PostgresConfig `koanf:"postgres"`
	Document DocumentConfig `koanf:"document"`
}

type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type DocumentConfig struct {
	Path string `koanf:"path"`
}

type DataSetsConfig struct {
	// ConfigDir holds one YAML definition file per data set.
	ConfigDir string `koanf:"config_dir"`

	// Require fails startup when the directory defines no data sets.
	Require bool `koanf:"require"`
}

var dataSetNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Storage.Backend {
	case "postgres":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
		if c.Storage.Postgres.MaxOpenConns <= 0 {
			return fmt.Errorf("storage.postgres.max_open_conns must be > 0")
		}
		if c.Storage.Postgres.MaxIdleConns <= 0 {
			return fmt.Errorf("storage.postgres.max_idle_conns must be > 0")
		}
	case "document":
		if strings.TrimSpace(c.Storage.Document.Path) == "" {
			return fmt.Errorf("storage.document.path is required")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q (must be postgres or document)", c.Storage.Backend)
	}

	if strings.TrimSpace(c.DataSets.ConfigDir) == "" {
		return fmt.Errorf("data_sets.config_dir is required")
	}
	return nil
}

// Load parses config from file + env, validates it, then loads and validates
// the data set definitions.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                     8080,
		"server.host":                     "0.0.0.0",
		"server.max_body_size_mb":         1,
		"server.mode":                     "release",
		"storage.backend":                 "postgres",
		"storage.postgres.dsn":            "postgres://localhost/tidemark?sslmode=disable",
		"storage.postgres.max_open_conns": 25,
		"storage.postgres.max_idle_conns": 25,
		"storage.postgres.auto_migrate":   true,
		"storage.document.path":           "./tidemark.db",
		"data_sets.config_dir":            "./config/data_sets",
		"data_sets.require":               true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// TIDEMARK_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("TIDEMARK_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TIDEMARK_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defs, err := LoadDataSets(cfg.DataSets.ConfigDir)
	if err != nil {
		return nil, err
	}
	if cfg.DataSets.Require && len(defs) == 0 {
		return nil, fmt.Errorf("no data set definitions found in %q", cfg.DataSets.ConfigDir)
	}
	cfg.Definitions = defs

	return &cfg, nil
}

// LoadDataSets reads every .yaml/.yml file in dir as one data set definition.
func LoadDataSets(dir string) ([]dataset.Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data set config dir: %w", err)
	}

	var defs []dataset.Config
	seenNames := map[string]bool{}
	seenGroupType := map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", path, err)
		}

		var def dataset.Config
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %q: %w", path, err)
		}
		if err := validateDefinition(&def); err != nil {
			return nil, fmt.Errorf("invalid data set definition %q: %w", path, err)
		}

		if seenNames[def.Name] {
			return nil, fmt.Errorf("duplicate data set name %q in %q", def.Name, path)
		}
		seenNames[def.Name] = true

		groupType := def.DataGroup + "/" + def.DataType
		if seenGroupType[groupType] {
			return nil, fmt.Errorf("duplicate data group/type %q in %q", groupType, path)
		}
		seenGroupType[groupType] = true

		defs = append(defs, def)
	}
	return defs, nil
}

func validateDefinition(def *dataset.Config) error {
	if !dataSetNamePattern.MatchString(def.Name) {
		return fmt.Errorf("name %q must match %s", def.Name, dataSetNamePattern)
	}
	if strings.TrimSpace(def.DataGroup) == "" {
		return fmt.Errorf("data_group is required")
	}
	if strings.TrimSpace(def.DataType) == "" {
		return fmt.Errorf("data_type is required")
	}
	if def.CappedSize < 0 {
		return fmt.Errorf("capped_size must be >= 0")
	}
	if def.MaxAgeExpected < 0 {
		return fmt.Errorf("max_age_expected must be >= 0")
	}
	if def.Schema != nil {
		if err := def.Schema.Compile(); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}
