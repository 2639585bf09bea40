// Package config provides the configuration system for Comet.
// It defines a single ImportConfig structure covering the runtime knobs of
// the parallel importer: worker counts, chunking, buffer sizing and the
// directories the importer is allowed to touch.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMinChunkSize is the smallest byte range handed to a boundary
	// scan task. Small files collapse into a single chunk.
	DefaultMinChunkSize = 300 * 1024 * 1024

	// DefaultBufferSize is the read buffer used by boundary scanning and
	// indexing when plenty of memory is available.
	DefaultBufferSize = 2 * 1024 * 1024

	// smallBufferSize is used on memory-constrained hosts
	smallBufferSize = 256 * 1024

	// DefaultAnalysisMaxLines is the number of records sampled for type
	// detection and header recognition.
	DefaultAnalysisMaxLines = 1000

	// DefaultIndexFlushThreshold is the number of buffered (timestamp,
	// offset) entries per partition before a sorted chunk is flushed.
	DefaultIndexFlushThreshold = 128 * 1024

	// DefaultQueueCapacity is the task ring capacity.
	DefaultQueueCapacity = 64
)

// ImportConfig carries all settings of a parallel import run.
type ImportConfig struct {
	// WorkRoot is the directory under which per-table work directories
	// and shadow tables are created.
	WorkRoot string `yaml:"work_root" json:"work_root"`

	// TableRoot is the directory holding target tables.
	TableRoot string `yaml:"table_root" json:"table_root"`

	// ProtectedRoots are directories the importer must never create its
	// work directory at. An import whose work directory would alias one
	// of these fails before touching disk.
	ProtectedRoots []string `yaml:"protected_roots" json:"protected_roots"`

	// Workers is the size of the worker pool.
	Workers int `yaml:"workers" json:"workers"`

	// MinChunkSize is the minimum size of a boundary-scan chunk in bytes.
	MinChunkSize int64 `yaml:"min_chunk_size" json:"min_chunk_size"`

	// BufferSize is the streaming read buffer length in bytes.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// AnalysisMaxLines bounds the sample used for type detection.
	AnalysisMaxLines int `yaml:"analysis_max_lines" json:"analysis_max_lines"`

	// IndexFlushThreshold bounds buffered index entries per partition.
	IndexFlushThreshold int `yaml:"index_flush_threshold" json:"index_flush_threshold"`

	// QueueCapacity is the task ring capacity.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// CommitTimeout is loaded with the rest of the configuration; the
	// importer does not read it, so shadow table commits run without a
	// time bound.
	CommitTimeout time.Duration `yaml:"commit_timeout" json:"commit_timeout"`
}

// DefaultImportConfig returns a configuration sized for the host: the
// worker pool matches the CPU count and buffers shrink on hosts with
// little available memory.
func DefaultImportConfig() *ImportConfig {
	cfg := &ImportConfig{
		Workers:             runtime.NumCPU(),
		MinChunkSize:        DefaultMinChunkSize,
		BufferSize:          DefaultBufferSize,
		AnalysisMaxLines:    DefaultAnalysisMaxLines,
		IndexFlushThreshold: DefaultIndexFlushThreshold,
		QueueCapacity:       DefaultQueueCapacity,
		CommitTimeout:       5 * time.Minute,
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.Available < 1<<30 {
		cfg.BufferSize = smallBufferSize
		cfg.IndexFlushThreshold = DefaultIndexFlushThreshold / 8
	}

	return cfg
}

// Validate checks the configuration for obvious misuse.
func (c *ImportConfig) Validate() error {
	if c.WorkRoot == "" {
		return fmt.Errorf("work_root must be set")
	}
	if c.TableRoot == "" {
		return fmt.Errorf("table_root must be set")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MinChunkSize < 1 {
		return fmt.Errorf("min_chunk_size must be positive, got %d", c.MinChunkSize)
	}
	if c.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024, got %d", c.BufferSize)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	return nil
}

// LoadFile reads a yaml configuration document and applies it over the
// defaults.
func LoadFile(path string) (*ImportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultImportConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
