// Package settings provides the read-only difficulty settings consumed by
// the practice machine, either fixed or hot-reloaded from a YAML file.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/urtextpiano-dev/urtext-sub005/logging"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/util"
)

const (
	minSpeed = 0.25
	maxSpeed = 2.0

	reloadDelay = 100 * time.Millisecond
)

type Provider interface {
	Settings() model.DifficultySettings
}

type Static model.DifficultySettings

func (s Static) Settings() model.DifficultySettings {
	return Normalize(model.DifficultySettings(s))
}

// Normalize clamps playback speed and hint thresholds into usable ranges.
func Normalize(s model.DifficultySettings) model.DifficultySettings {
	if !util.IsFinitePositive(s.PlaybackSpeed) {
		s.PlaybackSpeed = 1.0
	}
	s.PlaybackSpeed = util.Clamp(s.PlaybackSpeed, minSpeed, maxSpeed)
	s.ShowHintsAfterAttempts = util.Max(s.ShowHintsAfterAttempts, 0)
	return s
}

// Load reads settings from a YAML file. Fields the file leaves out keep
// their defaults; a missing file yields the defaults.
func Load(path string) (model.DifficultySettings, error) {
	s := model.DefaultDifficultySettings()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return model.DefaultDifficultySettings(), fmt.Errorf("decode settings YAML: %w", err)
	}
	return Normalize(s), nil
}

func Save(path string, s model.DifficultySettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Watcher serves settings from a YAML file and reloads them when the file
// changes on disk.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	current  model.DifficultySettings
	onChange []func(model.DifficultySettings)

	watcher   *fsnotify.Watcher
	debounced func(func())
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	w := &Watcher{
		path:      path,
		logger:    logging.OrDiscard(logger),
		debounced: debounce.New(reloadDelay),
		done:      make(chan struct{}),
	}
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.current = s
	return w, nil
}

func (w *Watcher) Settings() model.DifficultySettings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) OnChange(fn func(model.DifficultySettings)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Reload rereads the file. A file that fails to parse keeps the previous
// settings.
func (w *Watcher) Reload() error {
	s, err := Load(w.path)
	if err != nil {
		w.logger.Warn("settings: reload failed, keeping previous settings", "path", w.path, "err", err)
		return err
	}

	w.mu.Lock()
	changed := s != w.current
	w.current = s
	callbacks := append([]func(model.DifficultySettings){}, w.onChange...)
	w.mu.Unlock()

	if !changed {
		return nil
	}
	w.logger.Info("settings: reloaded", "path", w.path,
		"wait_for_correct_note", s.WaitForCorrectNote,
		"playback_speed", s.PlaybackSpeed)
	for _, cb := range callbacks {
		cb(s)
	}
	return nil
}

// Watch starts following the settings file. The directory is watched so
// editors that replace the file are picked up.
func (w *Watcher) Watch() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	name := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounced(func() {
				_ = w.Reload()
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings: watch error", "err", err)
		}
	}
}

func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}
