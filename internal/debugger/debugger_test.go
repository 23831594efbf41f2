package debugger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/novaide/nova-debug/internal/errors"
	"github.com/novaide/nova-debug/internal/jdwp"
)

// Fixture ids shared by the debugger tests: one class with an instance
// method, stopped on thread 1 at line 12.
const (
	mainClass  jdwp.ReferenceTypeID = 100
	runMethod  jdwp.MethodID        = 1
	mainThread jdwp.ThreadID        = 1
	mainFrame  jdwp.FrameID         = 500
	thisObject jdwp.ObjectID        = 900
	countField jdwp.FieldID         = 11
	maxField   jdwp.FieldID         = 12
)

func intVal(n int64) jdwp.Value {
	return jdwp.Value{Tag: jdwp.TagInt, Int: n}
}

// stoppedMainFake builds a VM with com.example.Main loaded and thread
// "main" suspended in Main.run at code index 5 (source line 12).
func stoppedMainFake() *fakeConn {
	fc := newFakeConn()
	fc.classes = []jdwp.ClassInfo{
		{TypeTag: jdwp.TypeClass, Type: mainClass, Signature: "Lcom/example/Main;", Status: jdwp.StatusPrepared},
	}
	fc.signatures[mainClass] = "Lcom/example/Main;"
	fc.sources[mainClass] = "Main.java"
	fc.methods[mainClass] = []jdwp.MethodInfo{
		{ID: runMethod, Name: "run", Signature: "()V"},
		{ID: 2, Name: "lambda$run$0", Signature: "()V", ModBits: jdwp.ModSynthetic},
	}
	fc.lineTables[mainClass] = map[jdwp.MethodID]jdwp.LineTable{
		runMethod: {Start: 0, End: 20, Entries: []jdwp.LineEntry{
			{Index: 0, Line: 10},
			{Index: 5, Line: 12},
			{Index: 9, Line: 15},
		}},
		2: {Start: 0, End: 4, Entries: []jdwp.LineEntry{{Index: 0, Line: 12}}},
	}
	fc.varTables[mainClass] = map[jdwp.MethodID]jdwp.VariableTable{
		runMethod: {Entries: []jdwp.VariableEntry{
			{CodeIndex: 0, Name: "x", Signature: "I", Length: 100, Slot: 1},
		}},
	}
	fc.fields[mainClass] = []jdwp.FieldInfo{
		{ID: countField, Name: "count", Signature: "I"},
		{ID: maxField, Name: "MAX", Signature: "I", ModBits: jdwp.ModStatic},
	}
	fc.statics[mainClass] = map[jdwp.FieldID]jdwp.Value{maxField: intVal(99)}
	fc.threads[mainThread] = &fakeThread{
		name: "main",
		frames: []jdwp.FrameInfo{
			{ID: mainFrame, Location: jdwp.Location{TypeTag: jdwp.TypeClass, Class: mainClass, Method: runMethod, Index: 5}},
		},
	}
	fc.frameSlots[mainFrame] = map[int32]jdwp.Value{1: intVal(42)}
	fc.frameThis[mainFrame] = jdwp.TaggedObjectID{Tag: jdwp.TagObject, Object: thisObject}
	fc.objects[thisObject] = &fakeObject{
		ref:    mainClass,
		tag:    jdwp.TagObject,
		values: map[jdwp.FieldID]jdwp.Value{countField: intVal(5)},
	}
	return fc
}

func newTestDebugger(t *testing.T, fc *fakeConn) *Debugger {
	t.Helper()
	d := New(Options{
		Conn:   fc,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, d.Attach(context.Background()))
	return d
}

// topFrameHandle fetches the stack and returns the top frame's handle.
func topFrameHandle(t *testing.T, d *Debugger) int {
	t.Helper()
	frames, _, err := d.StackTrace(context.Background(), int(mainThread), 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	return frames[0].Id
}

func TestAttach_SubscribesClassPrepare(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)

	assert.True(t, d.Attached())
	assert.Len(t, fc.requestsOfKind(jdwp.KindClassPrepare), 1)
	assert.Empty(t, fc.requestsOfKind(jdwp.KindException))
}

func TestAttach_InstallsUncaughtExceptionBreak(t *testing.T) {
	fc := stoppedMainFake()
	d := New(Options{
		Conn:            fc,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		BreakOnUncaught: true,
	})
	require.NoError(t, d.Attach(context.Background()))

	reqs := fc.requestsOfKind(jdwp.KindException)
	require.Len(t, reqs, 1)
	mod, ok := reqs[0].mods[0].(jdwp.ExceptionOnlyModifier)
	require.True(t, ok)
	assert.True(t, mod.Uncaught)
	assert.False(t, mod.Caught)
}

func TestThreads(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())

	threads, err := d.Threads(context.Background())
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, int(mainThread), threads[0].Id)
	assert.Equal(t, "main", threads[0].Name)
}

func TestStackTrace(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())

	frames, total, err := d.StackTrace(context.Background(), int(mainThread), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, frames, 1)
	assert.Equal(t, "Main.run", frames[0].Name)
	assert.Equal(t, 12, frames[0].Line)
	require.NotNil(t, frames[0].Source)
	assert.Equal(t, "Main.java", frames[0].Source.Name)
}

func TestStackTrace_RunningThread(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())

	_, _, err := d.StackTrace(context.Background(), 99, 0, 0)
	assert.Equal(t, apperrors.CodeThreadNotStopped, apperrors.GetCode(err))
}

func TestScopesAndVariables(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	assert.Equal(t, "Locals", scopes[0].Name)
	assert.Equal(t, "Statics", scopes[1].Name)
	assert.True(t, scopes[1].Expensive)
	assert.GreaterOrEqual(t, scopes[0].VariablesReference, scopeRefBase)

	locals, err := d.Variables(context.Background(), scopes[0].VariablesReference, 0, 0)
	require.NoError(t, err)
	require.Len(t, locals, 2)
	assert.Equal(t, "this", locals[0].Name)
	assert.NotZero(t, locals[0].VariablesReference)
	assert.Equal(t, "x", locals[1].Name)
	assert.Equal(t, "42", locals[1].Value)
	assert.Equal(t, "int", locals[1].Type)

	statics, err := d.Variables(context.Background(), scopes[1].VariablesReference, 0, 0)
	require.NoError(t, err)
	require.Len(t, statics, 1)
	assert.Equal(t, "MAX", statics[0].Name)
	assert.Equal(t, "99", statics[0].Value)
}

func TestVariables_ObjectFields(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)
	locals, err := d.Variables(context.Background(), scopes[0].VariablesReference, 0, 0)
	require.NoError(t, err)

	fields, err := d.Variables(context.Background(), locals[0].VariablesReference, 0, 0)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "count", fields[0].Name)
	assert.Equal(t, "5", fields[0].Value)
}

func TestVariables_StaleScopeAfterContinue(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)

	require.NoError(t, d.Continue(context.Background()))

	_, err = d.Variables(context.Background(), scopes[0].VariablesReference, 0, 0)
	assert.Equal(t, apperrors.CodeStaleHandle, apperrors.GetCode(err))
}

func TestVariables_RejectsNegativePaging(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)

	_, err = d.Variables(context.Background(), scopes[0].VariablesReference, -1, 0)
	assert.Equal(t, apperrors.CodeInvalidParameter, apperrors.GetCode(err))

	_, err = d.Variables(context.Background(), scopes[0].VariablesReference, 0, -1)
	assert.Equal(t, apperrors.CodeInvalidParameter, apperrors.GetCode(err))
}

func TestVariables_RejectsNegativeArrayStart(t *testing.T) {
	fc := stoppedMainFake()
	const arr jdwp.ObjectID = 901
	const arrType jdwp.ReferenceTypeID = 101
	fc.signatures[arrType] = "[I"
	fc.objects[arr] = &fakeObject{ref: arrType, tag: jdwp.TagArray}
	fc.arrays[arr] = []jdwp.Value{intVal(1), intVal(2), intVal(3)}
	fc.frameSlots[mainFrame][2] = jdwp.Value{Tag: jdwp.TagArray, Object: arr}
	vt := fc.varTables[mainClass][runMethod]
	vt.Entries = append(vt.Entries, jdwp.VariableEntry{CodeIndex: 0, Name: "nums", Signature: "[I", Length: 100, Slot: 2})
	fc.varTables[mainClass][runMethod] = vt

	d := newTestDebugger(t, fc)
	frameID := topFrameHandle(t, d)
	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)
	locals, err := d.Variables(context.Background(), scopes[0].VariablesReference, 0, 0)
	require.NoError(t, err)

	var arrRef int
	for _, l := range locals {
		if l.Name == "nums" {
			arrRef = l.VariablesReference
		}
	}
	require.NotZero(t, arrRef)

	_, err = d.Variables(context.Background(), arrRef, -1, 1)
	assert.Equal(t, apperrors.CodeInvalidParameter, apperrors.GetCode(err))
}

func TestSetVariable_Local(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)
	frameID := topFrameHandle(t, d)

	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)

	v, err := d.SetVariable(context.Background(), scopes[0].VariablesReference, "x", "7")
	require.NoError(t, err)
	assert.Equal(t, "7", v.Value)
	assert.Equal(t, intVal(7), fc.frameSlots[mainFrame][1])
}

func TestSetVariable_ThisIsNotAssignable(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)

	_, err = d.SetVariable(context.Background(), scopes[0].VariablesReference, "this", "null")
	assert.Equal(t, apperrors.CodeInvalidParameter, apperrors.GetCode(err))
}

func TestSetVariable_ArrayElement(t *testing.T) {
	fc := stoppedMainFake()
	const arr jdwp.ObjectID = 901
	const arrType jdwp.ReferenceTypeID = 101
	fc.signatures[arrType] = "[I"
	fc.objects[arr] = &fakeObject{ref: arrType, tag: jdwp.TagArray}
	fc.arrays[arr] = []jdwp.Value{intVal(1), intVal(2), intVal(3)}
	fc.frameSlots[mainFrame][2] = jdwp.Value{Tag: jdwp.TagArray, Object: arr}
	vt := fc.varTables[mainClass][runMethod]
	vt.Entries = append(vt.Entries, jdwp.VariableEntry{CodeIndex: 0, Name: "nums", Signature: "[I", Length: 100, Slot: 2})
	fc.varTables[mainClass][runMethod] = vt

	d := newTestDebugger(t, fc)
	frameID := topFrameHandle(t, d)
	scopes, err := d.Scopes(context.Background(), frameID)
	require.NoError(t, err)
	locals, err := d.Variables(context.Background(), scopes[0].VariablesReference, 0, 0)
	require.NoError(t, err)

	var arrRef int
	for _, l := range locals {
		if l.Name == "nums" {
			arrRef = l.VariablesReference
		}
	}
	require.NotZero(t, arrRef)

	v, err := d.SetVariable(context.Background(), arrRef, "[1]", "20")
	require.NoError(t, err)
	assert.Equal(t, "20", v.Value)
	assert.Equal(t, intVal(20), fc.arrays[arr][1])
}

func TestEvaluate(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	tests := []struct {
		expr string
		want string
	}{
		{expr: "x", want: "42"},
		{expr: "this.count", want: "5"},
		{expr: "this.MAX", want: "99"}, // statics resolve through the chain
	}
	for _, tt := range tests {
		body, err := d.Evaluate(context.Background(), frameID, tt.expr)
		require.NoError(t, err, "evaluate %q", tt.expr)
		assert.Equal(t, tt.want, body.Result, "evaluate %q", tt.expr)
	}
}

func TestEvaluate_UnknownName(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	// Resolution failures come back as visible results, not errors.
	body, err := d.Evaluate(context.Background(), frameID, "nope")
	require.NoError(t, err)
	assert.Equal(t, "not found: nope", body.Result)

	body, err = d.Evaluate(context.Background(), frameID, "x + y")
	require.NoError(t, err)
	assert.Equal(t, "unsupported expression", body.Result)
}

func TestEvaluate_StaleFrame(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())
	frameID := topFrameHandle(t, d)

	require.NoError(t, d.Continue(context.Background()))

	_, err := d.Evaluate(context.Background(), frameID, "x")
	assert.Equal(t, apperrors.CodeStaleHandle, apperrors.GetCode(err))
}

func TestContinue_ResumesVM(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)

	require.NoError(t, d.Continue(context.Background()))
	assert.Equal(t, 1, fc.resumedAll)
}

func TestPause(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)

	msg, err := d.Pause(context.Background(), int(mainThread))
	require.NoError(t, err)
	assert.Equal(t, 1, fc.suspendedAll)

	stopped, ok := msg.(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "pause", stopped.Body.Reason)
	assert.Equal(t, int(mainThread), stopped.Body.ThreadId)
	assert.True(t, stopped.Body.AllThreadsStopped)
}

func TestDisconnect_ReleasesAndCloses(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)

	require.NoError(t, d.Disconnect(context.Background()))
	assert.True(t, fc.closed)
	assert.False(t, d.Attached())
}

func TestStep_InstallsRequestsAndResumes(t *testing.T) {
	fc := stoppedMainFake()
	fc.caps.CanGetMethodReturnValues = true
	d := newTestDebugger(t, fc)

	require.NoError(t, d.Step(context.Background(), mainThread, jdwp.StepOver))

	steps := fc.requestsOfKind(jdwp.KindSingleStep)
	require.Len(t, steps, 1)
	assert.Equal(t, jdwp.SuspendEventThread, steps[0].policy)
	mod, ok := steps[0].mods[0].(jdwp.StepModifier)
	require.True(t, ok)
	assert.Equal(t, mainThread, mod.Thread)
	assert.Equal(t, jdwp.StepSizeLine, mod.Size)
	assert.Equal(t, jdwp.StepOver, mod.Depth)

	// The method-exit watch rides along to recover return values.
	assert.Len(t, fc.requestsOfKind(jdwp.KindMethodExitReturnValue), 1)
	assert.Equal(t, []jdwp.ThreadID{mainThread}, fc.resumedThreads)
}

func TestStep_ReplacesPriorStepRequest(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)

	require.NoError(t, d.Step(context.Background(), mainThread, jdwp.StepOver))
	require.NoError(t, d.Step(context.Background(), mainThread, jdwp.StepInto))

	// The first request must be cleared before the second is installed.
	assert.Len(t, fc.requestsOfKind(jdwp.KindSingleStep), 1)
}
