// Package pvm holds the contracts of an atomic-operation and event
// notification engine for hierarchical process execution trees.
//
// Every visible step of a running process instance (entering an activity,
// leaving it, taking a transition, ending a scope) is an atomic operation.
// An operation notifies an ordered chain of listeners before it completes,
// one listener per call, persisting its progress on the execution so that
// control can return to an outside driver between listeners.
//
// The package defines:
//
//   - Execution and Guarded, the runtime token an operation acts on
//   - Scope and ListenerSet, the model nodes that supply listeners
//   - Listener and ListenerFunc
//   - Operation, the unit the scheduler executes
//   - Assumption and WithAssumption, the re-entrancy guard that lets nested
//     notification chains detect and drop stale executions
//   - the error taxonomy shared by all subpackages
//
// The notification template lives in the operation package, a reference
// process model in model, and a reference execution tree in runtime.
package pvm
