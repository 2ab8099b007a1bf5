package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-pvm"
)

// Instance states persisted in Record.State.
const (
	StateRunning   = "running"
	StateWaiting   = "waiting"
	StateSuspended = "suspended"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
)

// Record is the persisted snapshot of one process instance and its token.
type Record struct {
	InstanceID        string `json:"instance_id"`
	DefinitionKey     string `json:"definition_key"`
	DefinitionVersion int    `json:"definition_version,omitempty"`
	State             string `json:"state"`

	Token               string `json:"token"`
	ExecutionID         string `json:"execution_id"`
	ActivityID          string `json:"activity_id,omitempty"`
	TransitionID        string `json:"transition_id,omitempty"`
	ListenerIndex       int    `json:"listener_index,omitempty"`
	EventName           string `json:"event_name,omitempty"`
	EventSourceID       string `json:"event_source_id,omitempty"`
	SkipCustomListeners bool   `json:"skip_custom_listeners,omitempty"`
	// PendingOperation names the async operation a suspended instance resumes with.
	PendingOperation string `json:"pending_operation,omitempty"`

	Variables map[string]any `json:"variables,omitempty"`
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Variables = copyMap(r.Variables)
	return &cp
}

// Store persists instance records with optimistic locking.
//
// Load returns nil, nil for an unknown id. SaveIfVersion takes the version
// the caller last read (0 for a new record) and returns the new version.
type Store interface {
	Load(ctx context.Context, id string) (*Record, error)
	SaveIfVersion(ctx context.Context, rec *Record, expectedVersion int) (newVersion int, err error)
	List(ctx context.Context) ([]*Record, error)
}

var errNilRecord = errors.New("instance record required")

func versionConflict(id string, expected, current int) error {
	meta := map[string]any{
		"instance_id":      id,
		"expected_version": expected,
	}
	if current >= 0 {
		meta["current_version"] = current
	}
	return pvm.CloneError(pvm.ErrVersionConflict, "", nil, meta)
}

func normalizeRecord(rec *Record) (*Record, error) {
	rec = rec.Clone()
	if rec == nil {
		return nil, errNilRecord
	}
	rec.InstanceID = strings.TrimSpace(rec.InstanceID)
	if rec.InstanceID == "" {
		return nil, errors.New("instance record id required")
	}
	rec.State = strings.ToLower(strings.TrimSpace(rec.State))
	if rec.State == "" {
		return nil, errors.New("instance record state required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return rec, nil
}

// applyVersion checks expectedVersion against current and stamps next.
func applyVersion(next, current *Record, expectedVersion int) (int, error) {
	if expectedVersion < 0 {
		expectedVersion = 0
	}
	if current == nil {
		if expectedVersion != 0 {
			return 0, versionConflict(next.InstanceID, expectedVersion, 0)
		}
		next.Version = 1
		return 1, nil
	}
	if current.Version != expectedVersion {
		return 0, versionConflict(next.InstanceID, expectedVersion, current.Version)
	}
	next.Version = expectedVersion + 1
	return next.Version, nil
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
