package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)", buildDSN(ClientConfig{Path: MemoryPath}))
	assert.Equal(t,
		"data/tw.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(250)",
		buildDSN(ClientConfig{Path: "data/tw.db", BusyTimeout: 250_000_000}))
}

func TestNewClient_FileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tw.db")
	c, err := NewClient(WithPath(path))
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Health(ctx))
	require.NoError(t, c.InitSchema(ctx, []string{
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`,
	}))
	_, err = c.DB().ExecContext(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")
	require.NoError(t, err)

	var v string
	require.NoError(t, c.DB().QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, "a").Scan(&v))
	assert.Equal(t, "1", v)
	assert.Equal(t, path, c.Path())
}

func TestNewClient_InitSchemaRollsBack(t *testing.T) {
	c, err := NewClient(WithPath(MemoryPath))
	require.NoError(t, err)
	defer c.Close()

	err = c.InitSchema(context.Background(), []string{
		`CREATE TABLE a (id INTEGER)`,
		`NOT SQL`,
	})
	require.Error(t, err)

	var n int
	require.NoError(t, c.DB().QueryRow(`SELECT count(*) FROM sqlite_master WHERE name = 'a'`).Scan(&n))
	assert.Zero(t, n)
}

func TestNewClient_RequiresPath(t *testing.T) {
	_, err := NewClient()
	assert.Error(t, err)
}
