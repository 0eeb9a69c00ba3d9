package music

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vcmplayer/backend/pkg/logger"
)

// Registry hands out one live engine per chat. Dead engines remove themselves
// through their onExit hook; a lookup racing that removal just creates a
// fresh replacement.
type Registry struct {
	mu      sync.Mutex
	engines map[int64]*Engine
	deps    Deps
	opts    Options
	log     *zap.Logger
}

func NewRegistry(deps Deps, opts Options) *Registry {
	return &Registry{
		engines: make(map[int64]*Engine),
		deps:    deps,
		opts:    opts.withDefaults(),
		log:     logger.Named("registry"),
	}
}

// GetOrCreate returns the chat's engine, starting a new one when none is
// live. The second result reports whether this call created it; callers use
// that to attach their event consumer exactly once.
func (r *Registry) GetOrCreate(chatID int64) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[chatID]; ok {
		select {
		case <-e.Done():
			// exited but not yet removed; replace it
		default:
			return e, false
		}
	}
	e := NewEngine(chatID, r.deps, r.opts, r.remove)
	r.engines[chatID] = e
	e.Start()
	r.log.Debug("engine created", zap.Int64("chat_id", chatID))
	return e, true
}

// Get returns the chat's engine if one is live.
func (r *Registry) Get(chatID int64) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[chatID]
	if !ok {
		return nil, false
	}
	select {
	case <-e.Done():
		return nil, false
	default:
	}
	return e, true
}

// remove runs on the engine's own goroutine during teardown. The pointer
// comparison keeps a replacement engine registered under the same chat safe.
func (r *Registry) remove(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.engines[e.chatID]; ok && cur == e {
		delete(r.engines, e.chatID)
		r.log.Debug("engine removed", zap.Int64("chat_id", e.chatID))
	}
}

// Len reports how many engines are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Snapshot returns every live engine's status, ordered by chat id.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Shutdown stops every live engine in parallel, each writing its final
// checkpoint, and waits for all of them to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	r.log.Info("shutting down engines", zap.Int("count", len(engines)))
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		e := e
		g.Go(func() error { return e.Shutdown(ctx) })
	}
	return g.Wait()
}
