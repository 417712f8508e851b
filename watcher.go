package secrules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReloadSubscriber is told after the engine republishes a realm's rule
// base, with the new snapshot version.
type ReloadSubscriber interface {
	OnReload(ctx context.Context, realm string, version uint64) error
}

type ReloadSubscriberFunc func(ctx context.Context, realm string, version uint64) error

func (f ReloadSubscriberFunc) OnReload(ctx context.Context, realm string, version uint64) error {
	return f(ctx, realm, version)
}

// RealmWatcher serializes administrative policy-change notifications
// into engine reloads. Hosts call NotifyRealmChange when persisted
// policies change; the watcher reloads that realm in the background and
// fans out to subscribers. An optional refresh interval re-pulls the
// default realm periodically.
type RealmWatcher struct {
	engine          *Engine
	refreshInterval time.Duration
	notifyCh        chan string
	stopCh          chan struct{}
	subscribers     map[string][]ReloadSubscriber
	mu              sync.RWMutex
	started         bool
	wg              sync.WaitGroup
}

type RealmWatcherOption func(*RealmWatcher)

// WithRefreshInterval adds a periodic reload of the engine's default
// realm on top of explicit notifications.
func WithRefreshInterval(interval time.Duration) RealmWatcherOption {
	return func(w *RealmWatcher) {
		if interval > 0 {
			w.refreshInterval = interval
		}
	}
}

func NewRealmWatcher(engine *Engine, opts ...RealmWatcherOption) (*RealmWatcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	w := &RealmWatcher{
		engine:      engine,
		notifyCh:    make(chan string, 1024),
		stopCh:      make(chan struct{}),
		subscribers: make(map[string][]ReloadSubscriber),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *RealmWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		var tick <-chan time.Time
		if w.refreshInterval > 0 {
			ticker := time.NewTicker(w.refreshInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case realm := <-w.notifyCh:
				if realm == "" {
					continue
				}
				w.reload(ctx, realm)
			case <-tick:
				w.reload(ctx, w.engine.defaultRealm)
			}
		}
	}()
}

func (w *RealmWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.mu.Unlock()

	close(w.stopCh)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyRealmChange queues a reload for the realm. Drops the
// notification when the queue is full; a periodic refresh or the next
// change will catch up.
func (w *RealmWatcher) NotifyRealmChange(realm string) {
	if realm == "" {
		return
	}
	select {
	case w.notifyCh <- realm:
	default:
	}
}

// RegisterSubscriber subscribes to reloads of one realm, or of every
// realm when realm is empty.
func (w *RealmWatcher) RegisterSubscriber(realm string, sub ReloadSubscriber) {
	if sub == nil {
		return
	}
	if realm == "" {
		realm = Any
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribers[realm] = append(w.subscribers[realm], sub)
}

func (w *RealmWatcher) reload(ctx context.Context, realm string) {
	if err := w.engine.ReloadFromSource(ctx, realm); err != nil {
		w.engine.log.Warn("realm reload failed", "realm", realm, "error", err.Error())
		return
	}
	version := w.engine.Version()
	for _, sub := range w.collectSubscribers(realm) {
		if err := sub.OnReload(ctx, realm, version); err != nil {
			w.engine.log.Warn("reload subscriber error", "realm", realm, "error", err.Error())
		}
	}
}

func (w *RealmWatcher) collectSubscribers(realm string) []ReloadSubscriber {
	w.mu.RLock()
	defer w.mu.RUnlock()
	subs := make([]ReloadSubscriber, 0, len(w.subscribers[realm])+len(w.subscribers[Any]))
	subs = append(subs, w.subscribers[realm]...)
	subs = append(subs, w.subscribers[Any]...)
	return subs
}
