// Package watch reloads content when files under a directory change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce groups bursts of events, such as an editor saving a file
// in several steps, into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls OnChange after files below Root stop changing.
type Watcher struct {
	Root     string
	Debounce time.Duration
	OnChange func(ctx context.Context)
	Logger   *zap.Logger
}

// Run watches Root and every directory below it until ctx is done. New
// directories are picked up as they appear. OnChange runs on the calling
// goroutine, so it never overlaps itself.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("watch")
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if _, err := os.Stat(w.Root); err != nil {
		return fmt.Errorf("watch %s: %w", w.Root, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range Dirs(w.Root) {
		if err := fw.Add(dir); err != nil {
			logger.Warn("could not watch directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	logger.Info("watching for changes", zap.String("root", w.Root))

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("change detected", zap.String("path", event.Name), zap.Stringer("op", event.Op))

			if event.Has(fsnotify.Create) && isDir(event.Name) {
				for _, dir := range Dirs(event.Name) {
					if err := fw.Add(dir); err != nil {
						logger.Warn("could not watch new directory", zap.String("dir", dir), zap.Error(err))
					}
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if w.OnChange != nil {
				w.OnChange(ctx)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Dirs returns root and every directory below it.
func Dirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
