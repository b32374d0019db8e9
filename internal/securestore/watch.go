package securestore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the backend whenever another process replaces or removes
// its file, until ctx is done. A document that fails to decode is ignored and
// the last good contents are kept.
func (fb *FileBackend) Watch(ctx context.Context, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The directory is watched since save replaces the file by rename.
	if err := watcher.Add(filepath.Dir(fb.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", fb.path, err)
	}

	target := filepath.Clean(fb.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) {
					fb.reload(log)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("vault file watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// reload reads the file under fb.mu so a Put that saved after the read
// started cannot be overwritten by older contents.
func (fb *FileBackend) reload(log *zap.Logger) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	vaults, err := readVaultFile(fb.path)
	if err != nil {
		log.Debug("skipping vault file reload", zap.Error(err))
		return
	}
	fb.Vaults = vaults
	log.Debug("vault file reloaded", zap.String("path", fb.path))
}
