package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder guarda a configuração ativa e recarrega por arquivo (fsnotify) ou SIGHUP.
// Só as regras de rate limit são aplicadas sem reiniciar.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	onReload []func(error)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder carrega a configuração inicial. path vazio: só ambiente (sem watch de arquivo).
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if path != "" {
		path, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("absolute path: %w", err)
		}
	}

	return &Holder{
		config: cfg,
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload relê arquivo + ambiente. Em erro a configuração anterior continua.
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		h.notifyReload(err)
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)

	for _, fn := range listeners {
		fn(newCfg)
	}
	h.notifyReload(nil)

	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

func (h *Holder) notifyReload(err error) {
	h.mu.RLock()
	fns := append([]func(error){}, h.onReload...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReload é chamado após cada tentativa de reload (err nil em sucesso).
func (h *Holder) OnReload(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

// WatchFile observa o diretório do arquivo (editores salvam via rename).
func (h *Holder) WatchFile() error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				_ = h.Reload()
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")
				_ = h.Reload()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if len(old.RateLimit.Rules) != len(new.RateLimit.Rules) {
		h.logger.Info().
			Int("old", len(old.RateLimit.Rules)).
			Int("new", len(new.RateLimit.Rules)).
			Msg("rate limit rules count changed")
	}
	if old.Server != new.Server || old.Store != new.Store || old.Logging != new.Logging {
		h.logger.Warn().Msg("server, store and logging changes only take effect after restart")
	}
}
