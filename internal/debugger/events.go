package debugger

import (
	"context"
	"fmt"

	"github.com/google/go-dap"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// HandleEvent folds one composite event packet into session state and
// returns the DAP events the client should see. Consumed events (silently
// continued breakpoints, smart-step intermediate stops) resume the program
// themselves and produce no messages.
func (d *Debugger) HandleEvent(ctx context.Context, composite jdwp.Events) ([]dap.Message, error) {
	var out []dap.Message
	var stopped, resumed bool
	var suspendedThread jdwp.ThreadID

	for _, ev := range composite.Events {
		switch e := ev.(type) {
		case jdwp.EventBreakpoint:
			suspendedThread = e.Thread
			msgs, surfaced, err := d.onBreakpoint(ctx, e, StopBreakpoint)
			if err != nil {
				return out, err
			}
			out = append(out, msgs...)
			stopped = stopped || surfaced

		case jdwp.EventSingleStep:
			suspendedThread = e.Thread
			consumed, err := d.continueSmartStep(ctx, e.Thread, e.Location)
			if err != nil {
				return out, err
			}
			if consumed {
				resumed = true
				continue
			}
			out = append(out, d.onStepStop(e))
			stopped = true

		case jdwp.EventMethodExit:
			if e.HasValue {
				d.methodExitValues[e.Thread] = e.Value
			}

		case jdwp.EventException:
			suspendedThread = e.Thread
			out = append(out, d.onException(ctx, e))
			stopped = true

		case jdwp.EventClassPrepare:
			suspendedThread = e.Thread
			if err := d.onClassPrepare(ctx, e); err != nil {
				return out, err
			}

		case jdwp.EventFieldAccess:
			suspendedThread = e.Thread
			msgs, surfaced, err := d.onFieldWatch(ctx, e.Request, e.Thread, e.Location, e.Class, e.Field, "read")
			if err != nil {
				return out, err
			}
			out = append(out, msgs...)
			stopped = stopped || surfaced

		case jdwp.EventFieldModification:
			suspendedThread = e.Thread
			msgs, surfaced, err := d.onFieldWatch(ctx, e.Request, e.Thread, e.Location, e.Class, e.Field, "write")
			if err != nil {
				return out, err
			}
			out = append(out, msgs...)
			stopped = stopped || surfaced

		case jdwp.EventThreadStart:
			out = append(out, &dap.ThreadEvent{
				Event: newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "started", ThreadId: int(e.Thread)},
			})

		case jdwp.EventThreadDeath:
			d.stops.ClearThread(e.Thread)
			delete(d.methodExitValues, e.Thread)
			out = append(out, &dap.ThreadEvent{
				Event: newEvent("thread"),
				Body:  dap.ThreadEventBody{Reason: "exited", ThreadId: int(e.Thread)},
			})

		case jdwp.EventVMDeath:
			d.vmDead = true
			out = append(out, &dap.TerminatedEvent{Event: newEvent("terminated")})
			stopped = true
		}
	}

	if composite.Policy != jdwp.SuspendNone && !stopped && !resumed {
		if err := d.resumeAfterConsumed(ctx, composite.Policy, suspendedThread); err != nil {
			return out, err
		}
	}
	return out, nil
}

// resumeAfterConsumed resumes whatever the consumed composite suspended.
func (d *Debugger) resumeAfterConsumed(ctx context.Context, policy jdwp.SuspendPolicy, thread jdwp.ThreadID) error {
	if policy == jdwp.SuspendAll {
		return d.conn.Resume(ctx)
	}
	if thread != 0 {
		return d.conn.ResumeThread(ctx, thread)
	}
	return nil
}

// onBreakpoint runs hit processing for a breakpoint event and either
// surfaces a stop, emits logpoint output, or silently resumes.
func (d *Debugger) onBreakpoint(ctx context.Context, e jdwp.EventBreakpoint, reason StopReason) ([]dap.Message, bool, error) {
	outcome, err := d.handleBreakpointHit(ctx, e.Request, e.Thread, e.Location)
	if err != nil {
		return nil, false, err
	}
	switch outcome.action {
	case hitContinue:
		return nil, false, nil
	case hitLog:
		// Logpoints are installed non-suspending, so there is nothing to
		// resume here.
		msg := &dap.OutputEvent{
			Event: newEvent("output"),
			Body:  dap.OutputEventBody{Category: "console", Output: outcome.message + "\n"},
		}
		return []dap.Message{msg}, false, nil
	}

	d.abortSmartStep(e.Thread)
	d.onStop(e.Thread, &stopRecord{
		Reason:           reason,
		Location:         e.Location,
		HitBreakpointIDs: []int{outcome.dapID},
	})
	stoppedEv := &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:           StopBreakpoint.DAPReason(),
			ThreadId:         int(e.Thread),
			HitBreakpointIds: []int{outcome.dapID},
		},
	}
	return []dap.Message{stoppedEv}, true, nil
}

// onStepStop surfaces a completed step, attaching a return value recovered
// by the method-exit watch when one was seen.
func (d *Debugger) onStepStop(e jdwp.EventSingleStep) dap.Message {
	rec := &stopRecord{Reason: StopStep, Location: e.Location}
	if v, ok := d.methodExitValues[e.Thread]; ok {
		rec.ReturnValue = v
		rec.HasReturnValue = true
	}
	d.onStop(e.Thread, rec)
	return &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body:  dap.StoppedEventBody{Reason: StopStep.DAPReason(), ThreadId: int(e.Thread)},
	}
}

// onException records the exception context and surfaces the stop.
func (d *Debugger) onException(ctx context.Context, e jdwp.EventException) dap.Message {
	d.abortSmartStep(e.Thread)
	exc := &exceptionContext{
		Exception: e.Exception,
		Caught:    e.CatchLocation.Class != 0,
		CatchSite: e.CatchLocation,
		Throw:     e.Location,
	}
	d.onStop(e.Thread, &stopRecord{Reason: StopException, Location: e.Location, Exception: exc})

	text := "exception thrown"
	if name, err := d.exceptionTypeName(ctx, e.Exception); err == nil && name != "" {
		text = name
	}
	return &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:   StopException.DAPReason(),
			ThreadId: int(e.Thread),
			Text:     text,
		},
	}
}

func (d *Debugger) exceptionTypeName(ctx context.Context, exc jdwp.TaggedObjectID) (string, error) {
	if exc.Object == 0 {
		return "", nil
	}
	_, ref, err := d.conn.ObjectType(ctx, exc.Object)
	if err != nil {
		return "", err
	}
	sig, err := d.signatureOf(ctx, ref)
	if err != nil {
		return "", err
	}
	return typeNameFromSignature(sig), nil
}

// onClassPrepare registers the new class and retries any breakpoints that
// were waiting for it. Requests that move from pending to verified queue a
// breakpoint-changed update for the client.
func (d *Debugger) onClassPrepare(ctx context.Context, e jdwp.EventClassPrepare) error {
	d.classes[e.Type] = jdwp.ClassInfo{TypeTag: e.TypeTag, Type: e.Type, Signature: e.Signature, Status: e.Status}

	for key, pending := range d.pendingSrc {
		if len(pending) == 0 {
			continue
		}
		if err := d.installSourceBreakpoints(ctx, key); err != nil {
			return err
		}
		for _, req := range d.srcRequested[key] {
			if pending[req.ID] && req.Verified {
				d.queueBreakpointUpdate(req.toDAP())
			}
		}
	}
	if len(d.pendingFn) > 0 {
		pending := d.pendingFn
		if err := d.installFunctionBreakpoints(ctx); err != nil {
			return err
		}
		for _, req := range d.fnRequested {
			if pending[req.ID] && req.Verified {
				d.queueBreakpointUpdate(dap.Breakpoint{Id: req.ID, Verified: true})
			}
		}
	}
	return nil
}

// onFieldWatch handles a watchpoint trigger.
func (d *Debugger) onFieldWatch(ctx context.Context, reqID jdwp.EventRequestID, thread jdwp.ThreadID, loc jdwp.Location, class jdwp.ReferenceTypeID, field jdwp.FieldID, access string) ([]dap.Message, bool, error) {
	outcome, err := d.handleBreakpointHit(ctx, reqID, thread, loc)
	if err != nil {
		return nil, false, err
	}
	if outcome.action == hitContinue {
		return nil, false, nil
	}

	d.abortSmartStep(thread)
	d.onStop(thread, &stopRecord{
		Reason:           StopDataBreakpoint,
		Location:         loc,
		HitBreakpointIDs: []int{outcome.dapID},
	})

	desc := fmt.Sprintf("field %s", access)
	if name, err := d.fieldName(ctx, class, field); err == nil && name != "" {
		desc = fmt.Sprintf("%s of field %s", access, name)
	}
	stoppedEv := &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:           StopDataBreakpoint.DAPReason(),
			ThreadId:         int(thread),
			Description:      desc,
			HitBreakpointIds: []int{outcome.dapID},
		},
	}
	return []dap.Message{stoppedEv}, true, nil
}

func (d *Debugger) fieldName(ctx context.Context, class jdwp.ReferenceTypeID, field jdwp.FieldID) (string, error) {
	fields, err := d.fieldsOf(ctx, class)
	if err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.ID == field {
			return f.Name, nil
		}
	}
	return "", nil
}

// onStop is the single entry point for a surfacing stop: it records the
// cause and drops per-stop state from the previous stop.
func (d *Debugger) onStop(thread jdwp.ThreadID, rec *stopRecord) {
	d.stops.Record(thread, rec)
	if rec.Reason != StopStep {
		delete(d.methodExitValues, thread)
	}
	d.invalidateHandles()
}

// queueBreakpointUpdate defers a breakpoint-changed event until the server
// drains it, keeping event emission out of install paths.
func (d *Debugger) queueBreakpointUpdate(bp dap.Breakpoint) {
	d.updates = append(d.updates, &dap.BreakpointEvent{
		Event: newEvent("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: "changed", Breakpoint: bp},
	})
}

// DrainBreakpointUpdates returns and clears queued breakpoint-changed
// events. The server calls it after every request and event batch.
func (d *Debugger) DrainBreakpointUpdates() []dap.Message {
	out := d.updates
	d.updates = nil
	return out
}

func newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           name,
	}
}
