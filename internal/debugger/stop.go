package debugger

import "github.com/novaide/nova-debug/internal/jdwp"

// StopReason records why a thread last stopped.
type StopReason int

const (
	StopNone StopReason = iota
	StopBreakpoint
	StopStep
	StopException
	StopPause
	StopDataBreakpoint
)

// DAPReason returns the stopped-event reason string for the stop cause.
func (r StopReason) DAPReason() string {
	switch r {
	case StopBreakpoint:
		return "breakpoint"
	case StopStep:
		return "step"
	case StopException:
		return "exception"
	case StopPause:
		return "pause"
	case StopDataBreakpoint:
		return "data breakpoint"
	default:
		return "unknown"
	}
}

// exceptionContext captures the thrown object and catch site of the last
// exception stop on a thread.
type exceptionContext struct {
	Exception jdwp.TaggedObjectID
	Caught    bool
	CatchSite jdwp.Location
	Throw     jdwp.Location
}

// stopRecord is one thread's last stop cause.
type stopRecord struct {
	Reason    StopReason
	Location  jdwp.Location
	Exception *exceptionContext
	// HitBreakpointIDs are the client-visible ids of breakpoints that
	// caused this stop, if any.
	HitBreakpointIDs []int
	// ReturnValue is a method return value recovered from a method-exit
	// watch during the preceding step, if one was seen.
	ReturnValue    jdwp.Value
	HasReturnValue bool
}

// stopTracker keeps the per-thread stop cause and exception context. The
// two are read together (e.g. by exceptionInfo), so they live in one record
// replaced atomically by the single session owner.
type stopTracker struct {
	byThread map[jdwp.ThreadID]*stopRecord
}

func newStopTracker() *stopTracker {
	return &stopTracker{byThread: make(map[jdwp.ThreadID]*stopRecord)}
}

// Record replaces the stop record for a thread.
func (t *stopTracker) Record(thread jdwp.ThreadID, rec *stopRecord) {
	t.byThread[thread] = rec
}

// Get returns the thread's stop record, or nil if it is running.
func (t *stopTracker) Get(thread jdwp.ThreadID) *stopRecord {
	return t.byThread[thread]
}

// ClearThread forgets one thread's stop cause, for per-thread resumes.
func (t *stopTracker) ClearThread(thread jdwp.ThreadID) {
	delete(t.byThread, thread)
}

// Clear forgets every stop cause, for VM-wide resumes.
func (t *stopTracker) Clear() {
	clear(t.byThread)
}
