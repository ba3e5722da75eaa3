package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialSchemaKeepsSuccessorUnconstrained(t *testing.T) {
	raw, err := fs.ReadFile(migrationFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)

	schema := string(raw)
	assert.Contains(t, schema, "REFERENCES users (id) ON DELETE CASCADE")
	assert.Contains(t, schema, "replaced_by_session_id UUID,")
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	err := Migrate("postgres://localhost/authd", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direction")
}
