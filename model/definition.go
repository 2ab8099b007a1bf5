package model

import (
	"strings"

	"github.com/goliatone/go-pvm"
)

// Event names raised on model scopes.
const (
	EventStart = "start"
	EventEnd   = "end"
	EventTake  = "take"
)

// ListenerScope is a model scope whose listener lists can be extended.
type ListenerScope interface {
	pvm.Scope
	AddBuiltIn(event string, listeners ...pvm.Listener)
	AddCustom(event string, listeners ...pvm.Listener)
}

// ProcessDefinition is the root scope of a process model. It raises the
// process level start and end events.
type ProcessDefinition struct {
	pvm.ListenerSet

	Key     string
	Name    string
	Version int
	Initial string

	activities map[string]*Activity
	order      []string
}

var _ ListenerScope = (*ProcessDefinition)(nil)

// NewDefinition creates an empty definition identified by key.
func NewDefinition(key string) *ProcessDefinition {
	return &ProcessDefinition{
		Key:        strings.TrimSpace(key),
		activities: make(map[string]*Activity),
	}
}

// ID returns the definition key.
func (d *ProcessDefinition) ID() string { return d.Key }

// AddActivity attaches a to the definition. Ids must be unique.
func (d *ProcessDefinition) AddActivity(a *Activity) error {
	if a == nil || a.id == "" {
		return invalid("activity id is required", nil)
	}
	if d.activities == nil {
		d.activities = make(map[string]*Activity)
	}
	if _, exists := d.activities[a.id]; exists {
		return invalid("duplicate activity id "+a.id, map[string]any{"activity": a.id})
	}
	a.definition = d
	d.activities[a.id] = a
	d.order = append(d.order, a.id)
	return nil
}

// Activity looks up an activity by id.
func (d *ProcessDefinition) Activity(id string) (*Activity, bool) {
	if d == nil {
		return nil, false
	}
	a, ok := d.activities[id]
	return a, ok
}

// Activities returns the activities in declaration order.
func (d *ProcessDefinition) Activities() []*Activity {
	out := make([]*Activity, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.activities[id])
	}
	return out
}

// InitialActivity returns the activity a new instance starts in.
func (d *ProcessDefinition) InitialActivity() *Activity {
	a, _ := d.Activity(d.Initial)
	return a
}

// Connect adds a transition between two existing activities.
func (d *ProcessDefinition) Connect(id, from, to string) (*Transition, error) {
	src, ok := d.Activity(from)
	if !ok {
		return nil, invalid("transition source "+from+" not found", map[string]any{"transition": id})
	}
	dst, ok := d.Activity(to)
	if !ok {
		return nil, invalid("transition destination "+to+" not found", map[string]any{"transition": id})
	}
	if id == "" {
		id = from + "->" + to
	}
	for _, existing := range src.outgoing {
		if existing.id == id {
			return nil, invalid("duplicate transition id "+id, map[string]any{"transition": id})
		}
	}
	t := &Transition{id: id, source: src, destination: dst}
	src.outgoing = append(src.outgoing, t)
	return t, nil
}

// Transition finds an outgoing transition of an activity by id.
func (d *ProcessDefinition) Transition(id string) (*Transition, bool) {
	for _, a := range d.Activities() {
		for _, t := range a.outgoing {
			if t.id == id {
				return t, true
			}
		}
	}
	return nil, false
}

// Scopes returns every listener scope of the definition: the definition
// itself, then each activity followed by its outgoing transitions.
func (d *ProcessDefinition) Scopes() []ListenerScope {
	out := []ListenerScope{d}
	for _, a := range d.Activities() {
		out = append(out, a)
		for _, t := range a.outgoing {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the definition graph.
func (d *ProcessDefinition) Validate() error {
	if d == nil {
		return invalid("definition is nil", nil)
	}
	if d.Key == "" {
		return invalid("definition key is required", nil)
	}
	if len(d.order) == 0 {
		return invalid("definition "+d.Key+" has no activities", nil)
	}
	if d.Initial == "" {
		return invalid("definition "+d.Key+" has no initial activity", nil)
	}
	if _, ok := d.Activity(d.Initial); !ok {
		return invalid("initial activity "+d.Initial+" not found", map[string]any{"definition": d.Key})
	}
	for _, a := range d.Activities() {
		switch a.Kind {
		case KindTask, KindWait, KindEnd:
		default:
			return invalid("activity "+a.id+" has unknown kind "+string(a.Kind), map[string]any{"activity": a.id})
		}
		if a.Kind == KindEnd && len(a.outgoing) > 0 {
			return invalid("end activity "+a.id+" cannot have outgoing transitions", map[string]any{"activity": a.id})
		}
		if a.Kind != KindEnd && len(a.outgoing) == 0 {
			return invalid("activity "+a.id+" has no outgoing transition", map[string]any{"activity": a.id})
		}
	}
	return nil
}

func invalid(message string, metadata map[string]any) error {
	return pvm.CloneError(pvm.ErrDefinitionInvalid, message, nil, metadata)
}
