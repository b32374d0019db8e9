package securestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fileRecord is the on-disk form of one sealed record.
type fileRecord struct {
	ID      string `json:"id"`
	Data    string `json:"data"`    // base64-encoded sealed payload
	Version int64  `json:"version"` // unix time of the last write
}

// FileBackend stores sealed records in a single JSON file.
type FileBackend struct {
	path string

	mu     sync.Mutex
	Vaults map[string]map[string]fileRecord `json:"vaults"`
}

// NewFileBackend loads path, or starts empty when it does not exist.
func NewFileBackend(path string) (*FileBackend, error) {
	fb := &FileBackend{path: path}
	if err := fb.load(); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *FileBackend) load() error {
	vaults, err := readVaultFile(fb.path)
	if err != nil {
		return err
	}
	fb.Vaults = vaults
	return nil
}

// readVaultFile decodes path. A missing file is an empty set of vaults.
func readVaultFile(path string) (map[string]map[string]fileRecord, error) {
	var doc struct {
		Vaults map[string]map[string]fileRecord `json:"vaults"`
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]map[string]fileRecord), nil
		}
		return nil, fmt.Errorf("open vault file: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode vault file: %w", err)
	}
	if doc.Vaults == nil {
		doc.Vaults = make(map[string]map[string]fileRecord)
	}
	return doc.Vaults, nil
}

// save writes a temporary file and renames it over path, so readers never
// observe a partial document. It must be called with fb.mu held.
func (fb *FileBackend) save() error {
	tmp := fb.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create vault file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(fb); err != nil {
		f.Close()
		return fmt.Errorf("encode vault file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close vault file: %w", err)
	}
	if err := os.Rename(tmp, fb.path); err != nil {
		return fmt.Errorf("replace vault file: %w", err)
	}
	return nil
}

func (fb *FileBackend) Get(_ context.Context, vault, item string) ([]byte, bool, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	rec, ok := fb.Vaults[vault][item]
	if !ok {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	return data, true, nil
}

func (fb *FileBackend) Put(_ context.Context, vault, item string, data []byte) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.Vaults[vault] == nil {
		fb.Vaults[vault] = make(map[string]fileRecord)
	}
	rec, ok := fb.Vaults[vault][item]
	if !ok {
		rec.ID = uuid.NewString()
	}
	rec.Data = base64.StdEncoding.EncodeToString(data)
	rec.Version = time.Now().Unix()
	fb.Vaults[vault][item] = rec
	return fb.save()
}

func (fb *FileBackend) DeleteAll(_ context.Context, vault string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if _, ok := fb.Vaults[vault]; !ok {
		return nil
	}
	delete(fb.Vaults, vault)
	return fb.save()
}

func (fb *FileBackend) Count(_ context.Context, vault string) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.Vaults[vault]), nil
}
