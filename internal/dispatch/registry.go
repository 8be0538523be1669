package dispatch

import (
	"fmt"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

// Registry keeps a mapping from channels to their dispatchers.
type Registry struct {
	dispatchers map[domain.Channel]ports.Dispatcher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{dispatchers: map[domain.Channel]ports.Dispatcher{}}
}

// Register adds or replaces a dispatcher implementation.
func (r *Registry) Register(dispatcher ports.Dispatcher) {
	if r.dispatchers == nil {
		r.dispatchers = map[domain.Channel]ports.Dispatcher{}
	}
	r.dispatchers[dispatcher.Channel()] = dispatcher
}

// Resolve returns a dispatcher by channel or an error if it is absent.
func (r *Registry) Resolve(channel domain.Channel) (ports.Dispatcher, error) {
	if !channel.Known() {
		return nil, fmt.Errorf("resolve %q: %w", channel, domain.ErrUnknownChannel)
	}
	if dispatcher, ok := r.dispatchers[channel]; ok {
		return dispatcher, nil
	}
	return nil, fmt.Errorf("dispatcher %s is not registered", channel)
}
