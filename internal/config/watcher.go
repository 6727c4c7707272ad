package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher holds the current configuration and swaps it when the config file changes.
// Readers always receive a copy, so a reload never mutates a snapshot already handed out.
type Watcher struct {
	v        *viper.Viper
	current  atomic.Pointer[Config]
	mu       sync.Mutex
	onChange []func(Config)
	onError  func(error)
}

// NewWatcher performs the initial load. Call Watch to start following file changes.
func NewWatcher(path string) (*Watcher, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Watcher{v: v}
	w.current.Store(&cfg)
	return w, nil
}

// Current returns the latest configuration.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// Delivery returns a deep copy of the latest delivery configuration.
func (w *Watcher) Delivery() Delivery {
	return w.current.Load().Delivery.Clone()
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// OnError registers a callback for reloads rejected by validation.
func (w *Watcher) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

// Watch starts following the config file. Invalid reloads keep the previous config.
func (w *Watcher) Watch() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		_, _ = w.Reload()
	})
	w.v.WatchConfig()
}

// Reload re-reads the config file and environment immediately.
func (w *Watcher) Reload() (Config, error) {
	if w.v.ConfigFileUsed() != "" {
		if err := w.v.ReadInConfig(); err != nil {
			w.reportError(err)
			return w.Current(), err
		}
	}
	cfg := fromViper(w.v)
	if err := cfg.Validate(); err != nil {
		w.reportError(err)
		return w.Current(), err
	}
	w.current.Store(&cfg)

	w.mu.Lock()
	callbacks := make([]func(Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (w *Watcher) reportError(err error) {
	w.mu.Lock()
	fn := w.onError
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
