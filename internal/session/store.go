// Package session keeps the on-disk layout of upload sessions.
//
// Every session lives in its own directory under the data root:
//
//	<root>/<id>/meta.json   default client labels
//	<root>/<id>/uploads/    chunked uploads, ".part" while in progress
//	<root>/<id>/outputs/    the four bucket CSV files
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or malformed session ids.
var ErrNotFound = errors.New("session not found")

// PartSuffix marks an upload that has not been completed.
const PartSuffix = ".part"

const (
	metaFile   = "meta.json"
	uploadsDir = "uploads"
	outputsDir = "outputs"

	// fallbackClient labels rows when a session names no client at all.
	fallbackClient = "DEFAULT"
)

// NewID returns a random id in the form used for sessions and uploads:
// 32 lowercase hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id has the form produced by NewID. Only valid
// ids are ever joined into filesystem paths.
func ValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil && strings.ToLower(id) == id
}

// Meta is the small per-session record written at creation.
type Meta struct {
	Client    string    `json:"cliente_por_defecto"`
	Subclient string    `json:"subcliente_por_defecto,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultClient is the label used for reports that name no client:
// the sub-client, else the client, else "DEFAULT".
func (m Meta) DefaultClient() string {
	switch {
	case strings.TrimSpace(m.Subclient) != "":
		return strings.TrimSpace(m.Subclient)
	case strings.TrimSpace(m.Client) != "":
		return strings.TrimSpace(m.Client)
	}
	return fallbackClient
}

// Upload is a completed upload of a session.
type Upload struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"completed_at"`
}

// Store manages session directories under a root directory.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("session store: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the data directory.
func (s *Store) Root() string {
	return s.root
}

// Create makes a new session directory and writes its metadata.
func (s *Store) Create(meta Meta) (string, error) {
	id := NewID()
	base := filepath.Join(s.root, id)

	for _, dir := range []string{uploadsDir, outputsDir} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return "", fmt.Errorf("create session dir: %w", err)
		}
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode session meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(base, metaFile), data, 0o644); err != nil {
		return "", fmt.Errorf("write session meta: %w", err)
	}
	return id, nil
}

func (s *Store) dir(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrNotFound
	}
	base := filepath.Join(s.root, id)
	info, err := os.Stat(base)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("stat session: %w", err)
	}
	return base, nil
}

// Exists reports whether the session directory is present.
func (s *Store) Exists(id string) bool {
	_, err := s.dir(id)
	return err == nil
}

// UploadDir returns the upload area of a session.
func (s *Store) UploadDir(id string) (string, error) {
	return s.sub(id, uploadsDir)
}

// OutputDir returns the bucket directory of a session.
func (s *Store) OutputDir(id string) (string, error) {
	return s.sub(id, outputsDir)
}

func (s *Store) sub(id, name string) (string, error) {
	base, err := s.dir(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(base, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	return path, nil
}

// Meta reads the session metadata. A missing or empty file yields a zero
// Meta, whose DefaultClient is "DEFAULT".
func (s *Store) Meta(id string) (Meta, error) {
	base, err := s.dir(id)
	if err != nil {
		return Meta{}, err
	}
	data, err := os.ReadFile(filepath.Join(base, metaFile))
	if errors.Is(err, os.ErrNotExist) || len(data) == 0 {
		return Meta{}, nil
	}
	if err != nil {
		return Meta{}, fmt.Errorf("read session meta: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("decode session meta: %w", err)
	}
	return m, nil
}

// ListCompletedUploads returns the finished uploads of a session, oldest
// completion first. Ties are broken by name so the order is the same on
// every filesystem.
func (s *Store) ListCompletedUploads(id string) ([]Upload, error) {
	dir, err := s.UploadDir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}

	var out []Upload
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), PartSuffix) {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat upload: %w", err)
		}
		out = append(out, Upload{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.Before(out[j].ModTime)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// List returns the ids of every session directory under the root.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Remove deletes a session directory and everything in it.
func (s *Store) Remove(id string) error {
	base, err := s.dir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(base); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
