package model

import (
	"strings"

	"github.com/goliatone/go-pvm"
)

// ActivityKind decides what an execution does once it entered an activity.
type ActivityKind string

const (
	// KindTask leaves through its first outgoing transition right away.
	KindTask ActivityKind = "task"
	// KindWait halts until the instance is signalled.
	KindWait ActivityKind = "wait"
	// KindEnd ends the process.
	KindEnd ActivityKind = "end"
)

// ParseKind normalizes a kind name. Empty means task.
func ParseKind(kind string) ActivityKind {
	k := ActivityKind(strings.ToLower(strings.TrimSpace(kind)))
	if k == "" {
		return KindTask
	}
	return k
}

// Activity is a node of the process graph.
type Activity struct {
	pvm.ListenerSet

	id   string
	Name string
	Kind ActivityKind
	// Scope activities run on their own representation of the token.
	Scope bool
	// AsyncBefore suspends the instance before the activity starts.
	AsyncBefore bool

	outgoing   []*Transition
	definition *ProcessDefinition
}

var _ ListenerScope = (*Activity)(nil)

// NewActivity creates an activity of the given kind.
func NewActivity(id string, kind ActivityKind) *Activity {
	return &Activity{id: strings.TrimSpace(id), Kind: kind}
}

func (a *Activity) ID() string { return a.id }

// Outgoing returns the outgoing transitions in declaration order.
func (a *Activity) Outgoing() []*Transition {
	out := make([]*Transition, len(a.outgoing))
	copy(out, a.outgoing)
	return out
}

// DefaultTransition is the first outgoing transition, or nil.
func (a *Activity) DefaultTransition() *Transition {
	if len(a.outgoing) == 0 {
		return nil
	}
	return a.outgoing[0]
}

// OutgoingTransition finds an outgoing transition by id.
func (a *Activity) OutgoingTransition(id string) (*Transition, bool) {
	for _, t := range a.outgoing {
		if t.id == id {
			return t, true
		}
	}
	return nil, false
}

// Definition returns the owning definition.
func (a *Activity) Definition() *ProcessDefinition { return a.definition }

// Transition connects two activities and raises the take event.
type Transition struct {
	pvm.ListenerSet

	id          string
	source      *Activity
	destination *Activity
}

var _ ListenerScope = (*Transition)(nil)

func (t *Transition) ID() string             { return t.id }
func (t *Transition) Source() *Activity      { return t.source }
func (t *Transition) Destination() *Activity { return t.destination }
