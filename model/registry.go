package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-pvm"
)

// ListenerRegistry stores named listeners referenced from definition files.
type ListenerRegistry struct {
	mu         sync.RWMutex
	listeners  map[string]pvm.Listener
	namespacer func(string, string) string
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		listeners:  make(map[string]pvm.Listener),
		namespacer: defaultNamespace,
	}
}

// SetNamespacer customizes how listener IDs are namespaced.
func (r *ListenerRegistry) SetNamespacer(fn func(string, string) string) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.namespacer = fn
	r.mu.Unlock()
}

// Register adds a listener by name.
func (r *ListenerRegistry) Register(name string, listener pvm.Listener) error {
	return r.RegisterNamespaced("", name, listener)
}

// RegisterNamespaced adds a listener under namespace+name. Registered
// listeners are wrapped so traces carry the registry ID.
func (r *ListenerRegistry) RegisterNamespaced(namespace, name string, listener pvm.Listener) error {
	if strings.TrimSpace(name) == "" || listener == nil {
		return fmt.Errorf("listener name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[string]pvm.Listener)
	}
	key := name
	if r.namespacer != nil {
		key = r.namespacer(namespace, name)
	}
	if _, exists := r.listeners[key]; exists {
		return fmt.Errorf("listener %s already registered", key)
	}
	r.listeners[key] = pvm.Named(key, listener)
	return nil
}

// Lookup retrieves a listener by its full ID.
func (r *ListenerRegistry) Lookup(id string) (pvm.Listener, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listeners[strings.TrimSpace(id)]
	return l, ok
}

// IDs returns sorted listener IDs.
func (r *ListenerRegistry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func defaultNamespace(namespace, id string) string {
	ns := strings.TrimSpace(namespace)
	ident := strings.TrimSpace(id)
	if ns == "" {
		return ident
	}
	return ns + "::" + ident
}
