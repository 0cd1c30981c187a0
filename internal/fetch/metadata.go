package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const metadataFile = ".codegraph-fetch.json"

// Metadata records where a cached snapshot came from. Its presence marks the
// snapshot as complete; extraction writes it last.
type Metadata struct {
	URL       string    `json:"url"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Ref       string    `json:"ref"`
	Digest    string    `json:"digest"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ReadMetadata loads the snapshot marker from dir.
func ReadMetadata(dir string) (*Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode fetch metadata in %s: %w", dir, err)
	}
	return &meta, nil
}

// WriteMetadata marks the snapshot in dir as complete.
func WriteMetadata(dir string, meta *Metadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), raw, 0o644); err != nil {
		return fmt.Errorf("write fetch metadata: %w", err)
	}
	return nil
}
