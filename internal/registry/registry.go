// Package registry keeps the process-global table of open databases.
// Opening the same path twice must share the map and the lock state,
// so every open goes through here; entries are refcounted and
// disposed when the last handle closes.
package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/leengari/skiplog/internal/engine"
)

// Registry manages open engines in a thread-safe way.
type Registry struct {
	mu   sync.Mutex
	open map[string]*entry
}

type entry struct {
	eng  *engine.Engine
	refs int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{open: make(map[string]*entry)}
}

// Default is the process-wide registry the public API uses.
var Default = New()

// Open returns the engine for path, opening it on first use and
// sharing it afterwards. The second open of a busy database is legal;
// beginning a transaction on it while one is in flight is not, and
// fails there with ErrLocked.
func (r *Registry) Open(path string, cfg engine.Config) (*engine.Engine, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ent, ok := r.open[abs]; ok {
		ent.refs++
		return ent.eng, nil
	}

	eng, err := engine.Open(abs, cfg)
	if err != nil {
		return nil, err
	}
	r.open[abs] = &entry{eng: eng, refs: 1}
	return eng, nil
}

// Close drops one reference to the engine, disposing it when the last
// reference goes away. Disposing while a transaction is still in
// flight is a caller bug; the engine logs it and force-unlocks.
func (r *Registry) Close(eng *engine.Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := eng.Path()
	ent, ok := r.open[path]
	if !ok || ent.eng != eng {
		slog.Error("close of unregistered database", "path", path)
		return eng.Close()
	}

	ent.refs--
	if ent.refs > 0 {
		return nil
	}
	delete(r.open, path)
	return eng.Close()
}

// Refs reports the current reference count for path; zero when not
// open. Diagnostic only.
func (r *Registry) Refs(path string) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent, ok := r.open[abs]; ok {
		return ent.refs
	}
	return 0
}
