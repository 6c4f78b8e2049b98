package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-loads the config file whenever it changes and hands the
// parsed result to onChange. Reload failures keep the previous config
// and are logged. Watch blocks until ctx is cancelled; callers run it
// in a goroutine. Editors replace files rather than writing in place,
// so the parent directory is watched and events filtered by name.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	// Config writes arrive as bursts of events; debounce before reloading.
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := LoadFromFile(abs)
			if err != nil {
				log.Printf("[Config] reload of %s failed, keeping previous: %v", path, err)
				continue
			}
			log.Printf("[Config] reloaded %s", path)
			onChange(cfg)

		case err := <-watcher.Errors:
			if err != nil {
				log.Printf("[Config] watch error: %v", err)
			}
		}
	}
}
