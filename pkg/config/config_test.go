package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultImportConfig(t *testing.T) {
	cfg := DefaultImportConfig()

	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Greater(t, cfg.MinChunkSize, int64(0))
	assert.GreaterOrEqual(t, cfg.BufferSize, 1024)
	assert.Greater(t, cfg.AnalysisMaxLines, 0)
	assert.Greater(t, cfg.IndexFlushThreshold, 0)
	assert.Greater(t, cfg.QueueCapacity, 0)
}

func TestValidate(t *testing.T) {
	cfg := DefaultImportConfig()
	cfg.WorkRoot = "/tmp/work"
	cfg.TableRoot = "/tmp/tables"
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.WorkRoot = ""
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Workers = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.BufferSize = 16
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.MinChunkSize = 0
	require.Error(t, bad.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
work_root: /data/work
table_root: /data/tables
workers: 7
min_chunk_size: 1048576
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/work", cfg.WorkRoot)
	assert.Equal(t, "/data/tables", cfg.TableRoot)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, int64(1048576), cfg.MinChunkSize)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultAnalysisMaxLines, cfg.AnalysisMaxLines)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
