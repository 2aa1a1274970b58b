package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeDataSetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "visits.yaml", `
name: visits
data_group: libraries
data_type: visits
capped_size: 10000
auto_id_keys: [authority, _timestamp]
published: true
schema:
  fields:
    authority: string!
    visits: number
`)
	return dir
}

func TestLoadDefaultsAndFile(t *testing.T) {
	dsDir := writeDataSetDir(t)
	cfgPath := writeFile(t, t.TempDir(), "tidemark.yaml", `
server:
  port: 9090
storage:
  backend: document
  document:
    path: /tmp/tidemark-test.db
data_sets:
  config_dir: `+dsDir+`
`)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host) // default preserved
	require.Equal(t, "document", cfg.Storage.Backend)

	require.Len(t, cfg.Definitions, 1)
	def := cfg.Definitions[0]
	require.Equal(t, "visits", def.Name)
	require.Equal(t, int64(10000), def.CappedSize)
	require.Equal(t, []string{"authority", "_timestamp"}, def.AutoIDKeys)
	require.True(t, def.Published)
	require.NotNil(t, def.Schema)
	require.True(t, def.Schema.Fields["authority"].Required)
}

func TestLoadEnvOverrides(t *testing.T) {
	dsDir := writeDataSetDir(t)
	cfgPath := writeFile(t, t.TempDir(), "tidemark.yaml", `
storage:
  backend: document
  document:
    path: /tmp/tidemark-test.db
data_sets:
  config_dir: `+dsDir+`
`)
	t.Setenv("TIDEMARK_SERVER__PORT", "7070")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, Host: "0.0.0.0", MaxBodySizeMB: 1, Mode: "release"},
			Storage: StorageConfig{
				Backend:  "postgres",
				Postgres: PostgresConfig{DSN: "postgres://x", MaxOpenConns: 5, MaxIdleConns: 5},
			},
			DataSets: DataSetsConfig{ConfigDir: "./config/data_sets"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad mode", func(c *Config) { c.Server.Mode = "verbose" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Postgres.DSN = "" }},
		{"document without path", func(c *Config) {
			c.Storage.Backend = "document"
			c.Storage.Document.Path = ""
		}},
		{"missing config dir", func(c *Config) { c.DataSets.ConfigDir = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDataSetsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: visits\ndata_group: g\ndata_type: t\n")
	writeFile(t, dir, "b.yaml", "name: visits\ndata_group: g2\ndata_type: t2\n")

	_, err := LoadDataSets(dir)
	require.ErrorContains(t, err, "duplicate data set name")
}

func TestLoadDataSetsRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: Bad-Name\ndata_group: g\ndata_type: t\n")

	_, err := LoadDataSets(dir)
	require.ErrorContains(t, err, "must match")
}
