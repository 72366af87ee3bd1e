// Package delivery routes autopilot output to a destination named by a
// prefixed address such as "telegram:<user>:<chat>" or "log:<label>".
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler delivers message to address.
type Handler func(ctx context.Context, address, message string) error

// Registry routes messages to the handler registered for the longest
// matching address prefix.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for addresses starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver sends message through the handler for address.
func (r *Registry) Deliver(ctx context.Context, address, message string) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(address, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for address: %s", address)
	}
	return handler(ctx, address, message)
}

// Prefixes returns the registered prefixes.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	return out
}

// LogHandler writes deliveries to logger, labelled by the address suffix.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, address, message string) error {
		_, label, _ := strings.Cut(address, ":")
		logger.InfoContext(ctx, "autopilot delivery", "label", label, "message", message)
		return nil
	}
}
