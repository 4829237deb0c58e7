package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"candlesync/internal/ports"
)

// Factory builds the capability surface for one exchange. Construction
// happens once, at Open time, not per call.
type Factory func() (ports.Exchange, error)

// Registry maps exchange identifiers to their capability factories. It
// replaces call-time module resolution by name with an explicit table
// populated at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    ports.Logger
}

// New creates an empty registry.
func New(logger ports.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for exchange registry")
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}, nil
}

// Register adds an exchange factory under a case-insensitive name,
// overwriting any previous registration.
func (r *Registry) Register(name string, f Factory) {
	key := strings.ToLower(name)
	r.mu.Lock()
	r.factories[key] = f
	r.mu.Unlock()
	r.logger.Debug(context.Background(), "Exchange registered", map[string]interface{}{"exchange": key})
}

// Open constructs the capability surface for a registered exchange.
// An unregistered name is a configuration error, raised immediately.
func (r *Registry) Open(name string) (ports.Exchange, error) {
	key := strings.ToLower(name)
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ports.ErrUnsupportedExchange, name, strings.Join(r.Names(), ", "))
	}
	return f()
}

// Names lists the registered exchange identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Combine composes independent live and archive fetchers into one
// ports.Exchange surface.
func Combine(live ports.LiveFetcher, archive ports.ArchiveFetcher) ports.Exchange {
	return combined{live, archive}
}

type combined struct {
	ports.LiveFetcher
	ports.ArchiveFetcher
}
