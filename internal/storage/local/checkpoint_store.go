// Package local implements a checkpoint file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// Config captures the parameters for the checkpoint file.
type Config struct {
	// Path is the YAML file holding the crawl state.
	Path string `mapstructure:"path" yaml:"path"`
}

// CheckpointStore persists harvest.CrawlState as a YAML document. Writes go
// to a temporary file that is synced and renamed over the target, so a crash
// leaves either the old or the new state on disk.
type CheckpointStore struct {
	mu   sync.Mutex
	path string
}

type checkpointDocument struct {
	Checkpoint harvest.CrawlState `yaml:"checkpoint"`
}

// New creates a checkpoint store, creating the parent directory when needed
// and verifying it is writable.
func New(cfg Config) (*CheckpointStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	dir := filepath.Dir(cfg.Path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat checkpoint directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("checkpoint directory path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("checkpoint directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &CheckpointStore{path: cfg.Path}, nil
}

// Path returns the checkpoint file location.
func (s *CheckpointStore) Path() string {
	return s.path
}

// Load reads the saved state. A missing file reports ok == false.
func (s *CheckpointStore) Load(_ context.Context) (harvest.CrawlState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return harvest.CrawlState{}, false, nil
	}
	if err != nil {
		return harvest.CrawlState{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return harvest.CrawlState{}, false, nil
	}
	var doc checkpointDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return harvest.CrawlState{}, false, fmt.Errorf("parse checkpoint %s: %w", s.path, err)
	}
	return doc.Checkpoint, true, nil
}

// Save durably replaces the stored state.
func (s *CheckpointStore) Save(_ context.Context, state harvest.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(checkpointDocument{Checkpoint: state})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
