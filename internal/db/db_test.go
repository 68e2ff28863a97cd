package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vytor/ucibridge/internal/db"
)

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	d, err := db.Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Ping(context.Background()))

	var tables int
	err = d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('analyses', 'analysis_lines')`).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 2, tables)
	require.NoError(t, d.Close())

	// Reopening must not re-run applied migrations.
	d, err = db.Open(path)
	require.NoError(t, err)
	defer d.Close()

	var applied int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}
