package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"firestige.xyz/otus-ingest/internal/config"
	"firestige.xyz/otus-ingest/internal/core"
	"firestige.xyz/otus-ingest/internal/metrics"
)

// Factory opens a source of one type.
type Factory func(ctx context.Context, cfg config.SourceConfig, opts Options) (Source, error)

// Registry maps source types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the file and exec frontends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(config.SourceTypeFile, openFileSource)
	_ = r.Register(config.SourceTypeExec, openExecSource)
	return r
}

// Register adds a factory; a type can only be registered once.
func (r *Registry) Register(typ string, f Factory) error {
	if typ == "" || f == nil {
		return fmt.Errorf("%w: source factory needs a type and a constructor", core.ErrConfig)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("source type '%s' already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Types lists registered source types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Open builds the configured source. When the frontend rejects the input as
// unsupported and the source has a fallback, the fallback is opened instead.
func (r *Registry) Open(ctx context.Context, cfg config.SourceConfig, opts Options) (Source, error) {
	src, err := r.open(ctx, cfg, opts)
	if err == nil || !errors.Is(err, core.ErrUnsupported) {
		return src, err
	}

	fb, fbErr := cfg.FallbackSource()
	if fbErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfig, fbErr)
	}
	if fb == nil {
		return nil, err
	}
	metrics.ErrorsTotal.WithLabelValues(cfg.Name, core.Kind(err)).Inc()
	slog.Warn("source unsupported, trying fallback", "source", cfg.Name, "fallback", fb.Name, "type", fb.Type, "error", err)
	return r.open(ctx, *fb, opts)
}

func (r *Registry) open(ctx context.Context, cfg config.SourceConfig, opts Options) (Source, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown source type '%s'", core.ErrConfig, cfg.Type)
	}
	src, err := f(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
	}
	return src, nil
}
