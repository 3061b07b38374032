package execution

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 200 * time.Millisecond

// ProfileWatcher reloads a ProfileStore when its profiles file changes.
type ProfileWatcher struct {
	path   string
	store  *ProfileStore
	base   []Profile
	logger *zap.Logger

	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// WatchProfiles starts watching path. base is the set the file is merged onto.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func WatchProfiles(path string, store *ProfileStore, base []Profile, logger *zap.Logger) (*ProfileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &ProfileWatcher{
		path:   abs,
		store:  store,
		base:   base,
		logger: logger,
		fs:     fsw,
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *ProfileWatcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Profile watcher error", zap.Error(err))
		}
	}
}

func (w *ProfileWatcher) reload() {
	profiles, err := LoadProfiles(w.path)
	if err == nil {
		err = w.store.Replace(Merge(w.base, profiles))
	}

	if err != nil {
		w.logger.Warn("Profile reload rejected, keeping previous set",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("Profiles reloaded",
		zap.String("path", w.path),
		zap.Int("languages", len(w.store.List())),
	)
}

// Close stops watching.
func (w *ProfileWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}
