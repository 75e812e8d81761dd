package command

import "context"

// Handler runs one command or interaction.
type Handler[T any] func(ctx context.Context, req T) (Response, error)

// Registry maps names to handlers and remembers registration order.
type Registry[T any] struct {
	handlers map[string]Handler[T]
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{handlers: make(map[string]Handler[T])}
}

// Register adds a handler. Registering a name again replaces its handler
// but keeps its original position.
func (r *Registry[T]) Register(name string, h Handler[T]) {
	if _, ok := r.handlers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
}

// Lookup returns the handler for name.
func (r *Registry[T]) Lookup(name string) (Handler[T], bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Keys returns the registered names in registration order.
func (r *Registry[T]) Keys() []string {
	return append([]string(nil), r.order...)
}
