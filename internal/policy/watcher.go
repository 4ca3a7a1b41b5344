package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadedEvent represents a policy reload event
type ReloadedEvent struct {
	Timestamp time.Time
	PolicyIDs []string
	Error     error
}

// FileWatcher monitors a directory for policy file changes and triggers
// reloads. Events are debounced so an editor save burst produces one reload.
type FileWatcher struct {
	watcher         *fsnotify.Watcher
	path            string
	loader          *Loader
	store           Store
	invalidator     CacheInvalidator
	logger          *zap.Logger
	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.RWMutex
	isWatching      bool
}

// NewFileWatcher creates a new file watcher for a policy directory
func NewFileWatcher(path string, store Store, loader *Loader, invalidator CacheInvalidator, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:         watcher,
		path:            path,
		loader:          loader,
		store:           store,
		invalidator:     invalidator,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching the policy directory for changes
func (fw *FileWatcher) Watch(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	fw.isWatching = true
	fw.mu.Unlock()

	if err := fw.watcher.Add(fw.path); err != nil {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	fw.logger.Info("starting policy file watcher",
		zap.String("path", fw.path),
		zap.Duration("debounce", fw.debounceTimeout),
	)

	go fw.watchLoop(ctx)
	return nil
}

// watchLoop processes file system events with debouncing
func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer func() {
		fw.mu.Lock()
		fw.isWatching = false
		fw.mu.Unlock()
		fw.logger.Info("policy file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.shouldProcessEvent(event) {
				fw.handleEvent(event)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// shouldProcessEvent determines if an event should trigger a reload
func (fw *FileWatcher) shouldProcessEvent(event fsnotify.Event) bool {
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}

// handleEvent resets the debounce timer for a file system event
func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.logger.Debug("policy file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	fw.debounceTimer = time.AfterFunc(fw.debounceTimeout, func() {
		fw.performReload()
	})
}

// performReload loads all policy files and replaces the store contents.
// The old set stays live if loading or storing fails partway.
func (fw *FileWatcher) performReload() {
	fw.logger.Info("reloading policies from disk", zap.String("path", fw.path))

	policies, err := fw.loader.LoadFromDirectory(fw.path)
	if err != nil {
		fw.logger.Error("failed to load policies",
			zap.String("path", fw.path),
			zap.Error(err),
		)
		fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
		return
	}

	fw.store.Clear()
	policyIDs := make([]string, 0, len(policies))
	for _, policy := range policies {
		if err := fw.store.Put(policy); err != nil {
			fw.logger.Error("failed to store policy",
				zap.String("policy", policy.Name),
				zap.Error(err),
			)
			fw.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
			return
		}
		policyIDs = append(policyIDs, policy.ID)
	}

	if fw.invalidator != nil {
		fw.invalidator.InvalidateCache()
	}

	fw.logger.Info("policies reloaded",
		zap.Int("count", len(policies)),
		zap.Strings("policies", policyIDs),
	)

	fw.emit(ReloadedEvent{Timestamp: time.Now(), PolicyIDs: policyIDs})
}

// emit sends a reload event without blocking when nobody listens
func (fw *FileWatcher) emit(event ReloadedEvent) {
	select {
	case fw.eventChan <- event:
	default:
	}
}

// EventChan returns a channel for receiving reload events
func (fw *FileWatcher) EventChan() <-chan ReloadedEvent {
	return fw.eventChan
}

// Stop stops watching for file changes
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.isWatching {
		return nil
	}

	close(fw.stopChan)

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}

	if err := fw.watcher.Close(); err != nil {
		fw.logger.Error("error closing watcher", zap.Error(err))
		return err
	}

	return nil
}

// SetDebounceTimeout sets the debounce timeout for file changes
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceTimeout = d
}

// IsWatching returns true if the watcher is currently active
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	return fw.isWatching
}
