package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

const stateFileName = "state.json"

// fileKVDocument is the on-disk layout of FileKV.
type fileKVDocument struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// FileKV implements domain.KVStore using a plain JSON file.
// Writes are atomic (temp file + rename) and serialized with a file lock
// so that a CLI command and the daemon never interleave.
type FileKV struct {
	path string
}

// NewFileKV creates a file store under dataDir.
func NewFileKV(dataDir string) (*FileKV, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileKV{path: filepath.Join(dataDir, stateFileName)}, nil
}

// NewFileKVWithPath creates a store at a specific path (for testing).
func NewFileKVWithPath(path string) *FileKV {
	return &FileKV{path: path}
}

// Load returns every stored entry. A missing file is an empty store.
func (s *FileKV) Load() (map[string]string, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// Commit applies set and del under an exclusive lock.
func (s *FileKV) Commit(set map[string]string, del []string) error {
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	doc, err := s.read()
	if err != nil {
		return err
	}
	for k, v := range set {
		doc.Entries[k] = v
	}
	for _, k := range del {
		delete(doc.Entries, k)
	}
	return s.atomicWrite(doc)
}

// Location returns the state file path.
func (s *FileKV) Location() string {
	return s.path
}

// Close is a no-op; the file is not held open.
func (s *FileKV) Close() error {
	return nil
}

func (s *FileKV) read() (*fileKVDocument, error) {
	doc := &fileKVDocument{Version: 1, Entries: make(map[string]string)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]string)
	}
	return doc, nil
}

// atomicWrite writes the document to file atomically (write + rename).
func (s *FileKV) atomicWrite(doc *fileKVDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	// Unique per process so two writers never share a temp file.
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileKV implements domain.KVStore.
var _ domain.KVStore = (*FileKV)(nil)
