package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
)

// snapshotFile is the on-disk layout of a persisted snapshot
type snapshotFile struct {
	Version uint64        `json:"version" yaml:"version"`
	SavedAt time.Time     `json:"saved_at" yaml:"saved_at"`
	Rules   []domain.Rule `json:"rules" yaml:"rules"`
}

// FilePersister stores the whole rule snapshot in a single YAML or JSON file,
// picked by the file extension (.json selects JSON, anything else YAML)
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Location returns the file path snapshots are written to
func (p *FilePersister) Location() string {
	return p.path
}

func (p *FilePersister) isJSON() bool {
	return strings.EqualFold(filepath.Ext(p.path), ".json")
}

// Load reads the persisted rules. A missing file yields an empty rule set.
func (p *FilePersister) Load(ctx context.Context) ([]domain.Rule, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.Rule{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", p.path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return []domain.Rule{}, nil
	}

	var file snapshotFile
	if p.isJSON() {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.path, err)
	}

	if file.Rules == nil {
		file.Rules = []domain.Rule{}
	}
	return file.Rules, nil
}

// Save writes the snapshot atomically
func (p *FilePersister) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file := snapshotFile{
		Version: snapshot.Version,
		SavedAt: time.Now().UTC(),
		Rules:   snapshot.Rules,
	}

	var (
		data []byte
		err  error
	)
	if p.isJSON() {
		data, err = json.MarshalIndent(file, "", "  ")
	} else {
		data, err = yaml.Marshal(file)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return atomicWrite(p.path, data)
}

// atomicWrite performs an atomic file write using temp file → sync → rename pattern
func atomicWrite(targetPath string, data []byte) error {
	// Create temp file in the same directory to ensure same filesystem
	dir := filepath.Dir(targetPath)
	tempFile, err := os.CreateTemp(dir, ".redirects-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}

	success = true
	return nil
}
