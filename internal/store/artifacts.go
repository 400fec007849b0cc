package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Artifact is one persisted label page. Written once, never edited;
// reprints re-fetch it instead of regenerating.
type Artifact struct {
	SKU       string    `json:"sku"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	WidthMM   float64   `json:"width_mm"`
	HeightMM  float64   `json:"height_mm"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveArtifact durably persists the rendered page for a SKU. The bytes land
// in a temp file first and are published with an atomic rename, so a crash
// mid-write never leaves a truncated artifact visible. Saving the same SKU
// again replaces the artifact in the same atomic fashion.
func (s *Store) SaveArtifact(sku string, data []byte, widthMM, heightMM float64) (*Artifact, error) {
	finalPath := s.artifactPath(sku)

	tmp, err := os.CreateTemp(s.dir, "."+sku+".tmp-*")
	if err != nil {
		return nil, &StorageError{Op: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, &StorageError{Op: "write artifact", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, &StorageError{Op: "sync artifact", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, &StorageError{Op: "close artifact", Err: err}
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, &StorageError{Op: "publish artifact", Err: err}
	}

	sum := sha256.Sum256(data)
	art := &Artifact{
		SKU:       sku,
		Path:      finalPath,
		SHA256:    hex.EncodeToString(sum[:]),
		WidthMM:   widthMM,
		HeightMM:  heightMM,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.Exec(`
		INSERT INTO artifacts (sku, path, sha256, width_mm, height_mm, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			path = excluded.path,
			sha256 = excluded.sha256,
			width_mm = excluded.width_mm,
			height_mm = excluded.height_mm,
			created_at = excluded.created_at
	`, art.SKU, art.Path, art.SHA256, art.WidthMM, art.HeightMM, art.CreatedAt)
	if err != nil {
		return nil, &StorageError{Op: "index artifact", Err: err}
	}

	return art, nil
}

// GetArtifact returns the artifact row and its bytes. Idempotent: repeated
// calls for the same SKU return the same stored page.
func (s *Store) GetArtifact(sku string) (*Artifact, []byte, error) {
	art, err := s.getArtifactRow(sku)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(art.Path)
	if err != nil {
		return nil, nil, &StorageError{Op: "read artifact", Err: err}
	}
	return art, data, nil
}

// HasArtifact reports whether an artifact exists for the SKU.
func (s *Store) HasArtifact(sku string) (bool, error) {
	_, err := s.getArtifactRow(sku)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) getArtifactRow(sku string) (*Artifact, error) {
	var art Artifact
	err := s.db.QueryRow(`
		SELECT sku, path, sha256, width_mm, height_mm, created_at
		FROM artifacts WHERE sku = ?
	`, sku).Scan(&art.SKU, &art.Path, &art.SHA256, &art.WidthMM, &art.HeightMM, &art.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "query artifact", Err: err}
	}
	return &art, nil
}

func (s *Store) artifactPath(sku string) string {
	return filepath.Join(s.dir, fmt.Sprintf("label_%s.png", sku))
}
