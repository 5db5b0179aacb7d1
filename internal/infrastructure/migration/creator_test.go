package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"add service descriptors":  "add_service_descriptors",
		"Add-Service-Descriptors":  "add_service_descriptors",
		"ADD_API_EVENTS":           "add_api_events",
		"add__api__events":         "add_api_events",
		"Saga States 123":          "saga_states_123",
		"   spaces   ":             "spaces",
		"special!@#$chars":         "specialchars",
		"trailing_":                "trailing",
		"_leading":                 "leading",
		"":                         "",
	}

	for input, want := range cases {
		assert.Equal(t, want, slugify(input), "input %q", input)
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	mf, err := CreateMigration(dir, "add api events", "Create the gateway event store table")
	require.NoError(t, err)

	// Version prefix is a 14-digit timestamp
	assert.Len(t, mf.Version, 14)

	// Pair shares one base name
	assert.True(t, strings.HasSuffix(mf.UpPath, ".up.sql"))
	assert.True(t, strings.HasSuffix(mf.DownPath, ".down.sql"))
	assert.Equal(t,
		strings.TrimSuffix(filepath.Base(mf.UpPath), ".up.sql"),
		strings.TrimSuffix(filepath.Base(mf.DownPath), ".down.sql"),
	)

	up, err := os.ReadFile(mf.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(up), "add api events")
	assert.Contains(t, string(up), "Create the gateway event store table")
	assert.Contains(t, string(up), "Write your UP migration SQL here")
	assert.NotContains(t, string(up), "Rollback")

	down, err := os.ReadFile(mf.DownPath)
	require.NoError(t, err)
	assert.Contains(t, string(down), "Rollback")
	assert.Contains(t, string(down), "Write your DOWN migration SQL here")
}

func TestCreateMigration_MakesDirectory(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "nested", "migrations")

	_, err := CreateMigration(nested, "init", "initial schema")
	require.NoError(t, err)

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestListMigrations(t *testing.T) {
	writeFiles := func(t *testing.T, dir string, names ...string) {
		t.Helper()
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- test"), 0644))
		}
	}

	t.Run("returns sorted pair base names", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir,
			"000002_add_workflow_states.up.sql", "000002_add_workflow_states.down.sql",
			"000001_init_schema.up.sql", "000001_init_schema.down.sql",
			"000003_add_saga_states.up.sql", "000003_add_saga_states.down.sql",
		)

		migrations, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"000001_init_schema",
			"000002_add_workflow_states",
			"000003_add_saga_states",
		}, migrations)
	})

	t.Run("empty directory", func(t *testing.T) {
		migrations, err := ListMigrations(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, migrations)
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		migrations, err := ListMigrations("/nonexistent/path/to/migrations")
		require.NoError(t, err)
		assert.Empty(t, migrations)
	})

	t.Run("ignores unrelated files and directories", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir,
			"000001_init.up.sql", "000001_init.down.sql",
			"README.md", "config.yaml", ".gitkeep",
		)
		require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.up.sql"), 0755))

		migrations, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"000001_init"}, migrations)
	})
}
