package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestLoadFormats(t *testing.T) {
	for _, tt := range []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "relstore.yaml",
			content: `
database:
  type: SQL
  options:
    driver: sqlite3
    dsn: file:relstore.db
schema: schema.yaml
pagination:
  pageSize: 50
`,
		},
		{
			name: "json",
			file: "relstore.json",
			content: `{
  "database": {"type": "SQL", "options": {"driver": "sqlite3", "dsn": "file:relstore.db"}},
  "schema": "schema.yaml",
  "pagination": {"pageSize": 50}
}`,
		},
		{
			name: "toml",
			file: "relstore.toml",
			content: `
schema = "schema.yaml"

[database]
type = "SQL"

[database.options]
driver = "sqlite3"
dsn = "file:relstore.db"

[pagination]
pageSize = 50
`,
		},
		{
			name: "ini",
			file: "relstore.ini",
			content: `
schema = schema.yaml

[database]
type = SQL

[database.options]
driver = sqlite3
dsn = file:relstore.db

[pagination]
pageSize = 50
`,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var options Options
			require.NoError(t, Load(writeFile(t, tt.file, tt.content), &options))

			assert.Equal(t, "SQL", options.Database.Type)
			assert.Equal(t, "schema.yaml", options.Schema)
			assert.Equal(t, 50, options.Pagination.PageSize)
			// 默认值
			assert.Equal(t, 1, options.Pagination.PageNo)
			assert.Equal(t, "", options.IDGenerator.Type)

			databaseOptions, ok := options.Database.Options.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "sqlite3", databaseOptions["driver"])
			assert.Equal(t, "file:relstore.db", databaseOptions["dsn"])
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RELSTORE_SCHEMA", "/etc/relstore/schema.yaml")
	t.Setenv("RELSTORE_PAGINATION_PAGE_SIZE", "5")
	t.Setenv("RELSTORE_MIGRATE", "true")

	var options Options
	require.NoError(t, Load(writeFile(t, "relstore.yaml", `
database:
  type: Gorm
schema: schema.yaml
pagination:
  pageSize: 50
`), &options))

	assert.Equal(t, "/etc/relstore/schema.yaml", options.Schema)
	assert.Equal(t, 5, options.Pagination.PageSize)
	assert.Equal(t, 1, options.Pagination.PageNo)
	assert.True(t, options.Migrate)
	assert.Equal(t, "Gorm", options.Database.Type)
}

func TestLoadErrors(t *testing.T) {
	var options Options

	err := Load(writeFile(t, "relstore.xml", "<config/>"), &options)
	assert.Error(t, err)

	err = Load(filepath.Join(t.TempDir(), "missing.yaml"), &options)
	assert.Error(t, err)

	err = Load(writeFile(t, "relstore.yaml", "database: [unclosed"), &options)
	assert.Error(t, err)

	// database.type 必填
	err = Load(writeFile(t, "relstore.yaml", "schema: schema.yaml\n"), &options)
	assert.Error(t, err)

	// 分页默认值超出范围
	err = Load(writeFile(t, "relstore.yaml", "database:\n  type: SQL\npagination:\n  pageSize: 5000\n"), &Options{})
	assert.Error(t, err)
}

func TestUnmarshal(t *testing.T) {
	type poolOptions struct {
		Timeout  time.Duration `cfg:"timeout" def:"3s"`
		MaxConns int           `cfg:"maxConns" def:"10" validate:"gte=1"`
		Tables   []string      `cfg:"tables"`
		Verbose  bool          `cfg:"verbose" env:"POOL_VERBOSE"`
	}

	t.Setenv("RELSTORE_POOL_VERBOSE", "true")

	var pool poolOptions
	require.NoError(t, Unmarshal([]byte(`{"timeout": "250ms", "tables": "tasks,lists"}`), FormatJSON, &pool))
	assert.Equal(t, 250*time.Millisecond, pool.Timeout)
	assert.Equal(t, 10, pool.MaxConns)
	assert.Equal(t, []string{"tasks", "lists"}, pool.Tables)
	assert.True(t, pool.Verbose)

	require.NoError(t, Unmarshal(nil, FormatYAML, &pool))
	assert.Error(t, Unmarshal([]byte(`{"maxConns": -1}`), FormatJSON, &poolOptions{}))
}

func TestFormatOf(t *testing.T) {
	for filename, want := range map[string]Format{
		"a.yaml":     FormatYAML,
		"a.YML":      FormatYAML,
		"dir/a.json": FormatJSON,
		"a.toml":     FormatTOML,
		"a.ini":      FormatINI,
	} {
		got, err := FormatOf(filename)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := FormatOf("a")
	assert.Error(t, err)
}
