package auth

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// KeySource supplies the current HS256 signing key.
type KeySource interface {
	Key() []byte
}

// StaticKey is a fixed signing key.
type StaticKey []byte

func (k StaticKey) Key() []byte { return k }

// FileKey reads the signing key from a file and reloads it when the file
// changes, so the identity provider's secret can rotate without a restart.
// A reload that fails or yields an empty key keeps the previous key.
type FileKey struct {
	path string

	mu  sync.RWMutex
	key []byte

	watcher    *fsnotify.Watcher
	debounceMu sync.Mutex
	debounce   *time.Timer
}

const keyReloadDebounce = 100 * time.Millisecond

func NewFileKey(path string) (*FileKey, error) {
	k := &FileKey{path: filepath.Clean(path)}
	key, err := readKey(k.path)
	if err != nil {
		return nil, err
	}
	k.key = key

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and secret mounts replace the file rather than write it.
	if err := watcher.Add(filepath.Dir(k.path)); err != nil {
		watcher.Close()
		return nil, err
	}
	k.watcher = watcher

	go k.watchLoop()
	return k, nil
}

func readKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key := bytes.TrimSpace(data)
	if len(key) == 0 {
		return nil, errors.New("empty signing key in " + path)
	}
	return key, nil
}

func (k *FileKey) Key() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key
}

func (k *FileKey) Close() error {
	k.debounceMu.Lock()
	if k.debounce != nil {
		k.debounce.Stop()
	}
	k.debounceMu.Unlock()
	return k.watcher.Close()
}

func (k *FileKey) watchLoop() {
	for {
		select {
		case event, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != k.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			k.scheduleReload()
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("signing key fsnotify error", "error", err)
		}
	}
}

func (k *FileKey) scheduleReload() {
	k.debounceMu.Lock()
	defer k.debounceMu.Unlock()

	if k.debounce != nil {
		k.debounce.Stop()
	}
	k.debounce = time.AfterFunc(keyReloadDebounce, k.reload)
}

func (k *FileKey) reload() {
	key, err := readKey(k.path)
	if err != nil {
		slog.Warn("signing key reload failed, keeping previous key", "path", k.path, "error", err)
		return
	}
	k.mu.Lock()
	k.key = key
	k.mu.Unlock()
	slog.Info("signing key reloaded", "path", k.path)
}
