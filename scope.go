package pvm

import (
	"sort"
	"strings"
)

// Scope is a node of the static process model that supplies listeners for
// named events.
//
// Listeners returns built-in listeners followed by custom listeners for the
// event; BuiltInListeners returns only the engine-internal ones. Both must be
// deterministic within one transition.
type Scope interface {
	ID() string
	Listeners(event string) []Listener
	BuiltInListeners(event string) []Listener
}

// ListenerSet holds ordered built-in and custom listener lists per event.
// The zero value is ready to use.
type ListenerSet struct {
	builtIn map[string][]Listener
	custom  map[string][]Listener
}

// AddBuiltIn appends engine-internal listeners for event.
func (s *ListenerSet) AddBuiltIn(event string, listeners ...Listener) {
	if s.builtIn == nil {
		s.builtIn = make(map[string][]Listener)
	}
	s.builtIn[normalizeEvent(event)] = appendListeners(s.builtIn[normalizeEvent(event)], listeners)
}

// AddCustom appends user-authored listeners for event.
func (s *ListenerSet) AddCustom(event string, listeners ...Listener) {
	if s.custom == nil {
		s.custom = make(map[string][]Listener)
	}
	s.custom[normalizeEvent(event)] = appendListeners(s.custom[normalizeEvent(event)], listeners)
}

// Listeners returns a fresh slice with built-in then custom listeners.
func (s *ListenerSet) Listeners(event string) []Listener {
	if s == nil {
		return nil
	}
	event = normalizeEvent(event)
	builtIn := s.builtIn[event]
	custom := s.custom[event]
	if len(builtIn)+len(custom) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(builtIn)+len(custom))
	out = append(out, builtIn...)
	return append(out, custom...)
}

// BuiltInListeners returns a fresh slice with the built-in listeners only.
func (s *ListenerSet) BuiltInListeners(event string) []Listener {
	if s == nil {
		return nil
	}
	builtIn := s.builtIn[normalizeEvent(event)]
	if len(builtIn) == 0 {
		return nil
	}
	out := make([]Listener, len(builtIn))
	copy(out, builtIn)
	return out
}

// Events returns the sorted names of events with at least one listener.
func (s *ListenerSet) Events() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.builtIn)+len(s.custom))
	for evt := range s.builtIn {
		seen[evt] = struct{}{}
	}
	for evt := range s.custom {
		seen[evt] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for evt := range seen {
		out = append(out, evt)
	}
	sort.Strings(out)
	return out
}

func appendListeners(dst []Listener, listeners []Listener) []Listener {
	for _, l := range listeners {
		if l != nil {
			dst = append(dst, l)
		}
	}
	return dst
}

func normalizeEvent(event string) string {
	return strings.ToLower(strings.TrimSpace(event))
}
