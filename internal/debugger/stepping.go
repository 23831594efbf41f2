package debugger

import (
	"context"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// smartStepBudget bounds the resumes one smart step-into may burn before
// giving up and surfacing wherever execution is.
const smartStepBudget = 64

// activeStep is the in-flight wire step request for one thread. At most one
// exists per thread.
type activeStep struct {
	Request    jdwp.EventRequestID
	Depth      jdwp.StepDepth
	MethodExit jdwp.EventRequestID // 0 when the VM cannot report return values
}

// Step installs a single-step request for the thread and resumes it. Any
// prior step or method-exit watch on the thread is cleared first. The
// method-exit watch is best effort: it recovers step-out return values and
// pseudo-results, and its absence never fails the step.
func (d *Debugger) Step(ctx context.Context, thread jdwp.ThreadID, depth jdwp.StepDepth) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.clearStepRequests(ctx, thread); err != nil {
		return err
	}
	// A return value recovered for the previous step must not attach to
	// this one.
	delete(d.methodExitValues, thread)

	var methodExit jdwp.EventRequestID
	if d.caps.CanGetMethodReturnValues {
		id, err := d.conn.SetEventRequest(ctx, jdwp.KindMethodExitReturnValue, jdwp.SuspendNone,
			jdwp.ThreadOnlyModifier(thread))
		if err == nil {
			methodExit = id
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			d.logger.Debug("method-exit watch unavailable", "err", err)
		}
	}

	reqID, err := d.conn.SetEventRequest(ctx, jdwp.KindSingleStep, jdwp.SuspendEventThread,
		jdwp.StepModifier{Thread: thread, Size: jdwp.StepSizeLine, Depth: depth},
		jdwp.CountModifier(1))
	if err != nil {
		if methodExit != 0 {
			_ = d.conn.ClearEventRequest(ctx, jdwp.KindMethodExitReturnValue, methodExit)
		}
		return err
	}
	d.activeSteps[thread] = &activeStep{Request: reqID, Depth: depth, MethodExit: methodExit}

	d.invalidateHandles()
	d.stops.ClearThread(thread)
	return d.conn.ResumeThread(ctx, thread)
}

// clearStepRequests removes the thread's step and method-exit requests.
func (d *Debugger) clearStepRequests(ctx context.Context, thread jdwp.ThreadID) error {
	step, ok := d.activeSteps[thread]
	if !ok {
		return nil
	}
	delete(d.activeSteps, thread)
	if err := d.conn.ClearEventRequest(ctx, jdwp.KindSingleStep, step.Request); err != nil && !jdwp.IsTerminal(err) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Debug("clear step request failed", "err", err)
	}
	if step.MethodExit != 0 {
		if err := d.conn.ClearEventRequest(ctx, jdwp.KindMethodExitReturnValue, step.MethodExit); err != nil && !jdwp.IsTerminal(err) {
			d.logger.Debug("clear method-exit watch failed", "err", err)
		}
	}
	return nil
}

// Smart step-into: stepping directly into the Nth call expression on a
// line. The VM only offers step-into-next-call, so the adapter loops:
// step into; if still on the origin line, repeat; on entering a callee,
// either this is the wanted ordinal (done) or step back out and go again.

type smartPhase int

const (
	phaseInto smartPhase = iota
	phaseOut
)

// smartStepState is the per-thread smart step-into state machine, advanced
// by one single-step event at a time.
type smartStepState struct {
	Phase      smartPhase
	Target     int // wanted departure ordinal, 0-based
	Seen       int // departures observed so far
	Origin     jdwp.Location
	OriginLine int
	Budget     int
}

// smartAction is the transition verdict for one event.
type smartAction int

const (
	smartReissueInto smartAction = iota
	smartStepOut
	smartDone
	smartAbort
)

// advance is the pure transition function: one single-step event in, one
// action out. It mutates only the state's own counters.
func (s *smartStepState) advance(loc jdwp.Location, line int) smartAction {
	if s.Budget <= 0 {
		return smartAbort
	}
	s.Budget--

	inOrigin := loc.Class == s.Origin.Class && loc.Method == s.Origin.Method

	switch s.Phase {
	case phaseInto:
		if inOrigin {
			if line == s.OriginLine {
				// Haven't left the call line yet.
				return smartReissueInto
			}
			// Ran off the end of the line without entering the target.
			return smartAbort
		}
		if s.Seen == s.Target {
			return smartDone
		}
		s.Seen++
		s.Phase = phaseOut
		return smartStepOut
	default: // phaseOut
		if inOrigin {
			if line == s.OriginLine {
				s.Phase = phaseInto
				return smartReissueInto
			}
			return smartAbort
		}
		// Still unwinding nested frames.
		return smartStepOut
	}
}

// startSmartStepInto begins the state machine for a thread stopped in the
// given frame and issues the first step-into.
func (d *Debugger) startSmartStepInto(ctx context.Context, thread jdwp.ThreadID, origin jdwp.Location, originLine, targetOrdinal int) error {
	d.smartSteps[thread] = &smartStepState{
		Target:     targetOrdinal,
		Origin:     origin,
		OriginLine: originLine,
		Budget:     smartStepBudget,
	}
	if err := d.Step(ctx, thread, jdwp.StepInto); err != nil {
		delete(d.smartSteps, thread)
		return err
	}
	return nil
}

// continueSmartStep advances the machine for a single-step event and
// performs the resulting wire action. It reports whether the stop was
// consumed (the thread was resumed) or should surface to the client.
func (d *Debugger) continueSmartStep(ctx context.Context, thread jdwp.ThreadID, loc jdwp.Location) (consumed bool, err error) {
	state, ok := d.smartSteps[thread]
	if !ok {
		return false, nil
	}
	line, err := d.lineAt(ctx, loc)
	if err != nil {
		delete(d.smartSteps, thread)
		return false, err
	}
	switch state.advance(loc, line) {
	case smartReissueInto:
		if err := d.Step(ctx, thread, jdwp.StepInto); err != nil {
			delete(d.smartSteps, thread)
			return false, err
		}
		return true, nil
	case smartStepOut:
		if err := d.Step(ctx, thread, jdwp.StepOut); err != nil {
			delete(d.smartSteps, thread)
			return false, err
		}
		return true, nil
	case smartDone:
		delete(d.smartSteps, thread)
		return false, nil
	default: // smartAbort
		delete(d.smartSteps, thread)
		return false, nil
	}
}

// abortSmartStep drops the machine when a breakpoint or exception on the
// tracked thread preempts it; the underlying stop surfaces normally.
func (d *Debugger) abortSmartStep(thread jdwp.ThreadID) {
	delete(d.smartSteps, thread)
}

// lineAt maps a location's code index to its source line.
func (d *Debugger) lineAt(ctx context.Context, loc jdwp.Location) (int, error) {
	lt, err := d.lineTableOf(ctx, loc.Class, loc.Method)
	if err != nil {
		if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
			return 0, nil
		}
		return 0, err
	}
	return lt.LineFor(loc.Index), nil
}
