package debugger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaide/nova-debug/internal/jdwp"
)

func TestSourceScanner_CallSites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Scan.java")
	content := strings.Join([]string{
		"class Scan {",
		"    void run() {",
		"        if (ready()) { handle(parse(input), fallback); }",
		"        return;",
		"    }",
		"}",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sites, err := NewSourceScanner().CallSites(path, 3)
	require.NoError(t, err)

	names := make([]string, 0, len(sites))
	for _, s := range sites {
		names = append(names, s.Name)
	}
	// Keywords like "if" must be skipped; calls come back in source order.
	assert.Equal(t, []string{"ready", "handle", "parse"}, names)

	// Out-of-range lines are empty, not errors.
	sites, err = NewSourceScanner().CallSites(path, 99)
	require.NoError(t, err)
	assert.Empty(t, sites)
}

// writeMainSource puts a Main.java on disk whose line 12 holds two calls,
// and registers the path with the debugger via a breakpoint request so
// sourcePathFor can map the class back to it.
func writeMainSource(t *testing.T, d *Debugger) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Main.java")
	content := strings.Repeat("\n", 11) + "        int y = helper(compute(x));\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := d.SetBreakpoints(context.Background(), path, []dap.SourceBreakpoint{{Line: 12}})
	require.NoError(t, err)
	return path
}

func TestStepInTargets(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)
	writeMainSource(t, d)
	frameID := topFrameHandle(t, d)

	targets, err := d.StepInTargets(context.Background(), frameID)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "helper", targets[0].Label)
	assert.Equal(t, "compute", targets[1].Label)
	assert.Equal(t, 12, targets[0].Line)
	assert.NotEqual(t, targets[0].Id, targets[1].Id)
}

func TestStepInTargets_StaleFrame(t *testing.T) {
	d := newTestDebugger(t, stoppedMainFake())

	_, err := d.StepInTargets(context.Background(), 12345)
	assert.Error(t, err)
}

func TestStepIn_WithTargetStartsSmartStep(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)
	writeMainSource(t, d)
	frameID := topFrameHandle(t, d)

	targets, err := d.StepInTargets(context.Background(), frameID)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	require.NoError(t, d.StepIn(context.Background(), mainThread, targets[1].Id))

	state, ok := d.smartSteps[mainThread]
	require.True(t, ok, "target id must arm the smart step machine")
	assert.Equal(t, 1, state.Target)
	assert.Equal(t, 12, state.OriginLine)
	assert.Len(t, fc.requestsOfKind(jdwp.KindSingleStep), 1)
	assert.Contains(t, fc.resumedThreads, mainThread)
}

func TestStepIn_StaleTargetFallsBackToPlainStep(t *testing.T) {
	fc := stoppedMainFake()
	d := newTestDebugger(t, fc)
	writeMainSource(t, d)
	frameID := topFrameHandle(t, d)

	targets, err := d.StepInTargets(context.Background(), frameID)
	require.NoError(t, err)
	require.NotEmpty(t, targets)

	// Resuming invalidates handed-out target ids.
	require.NoError(t, d.Continue(context.Background()))

	require.NoError(t, d.StepIn(context.Background(), mainThread, targets[0].Id))
	assert.Empty(t, d.smartSteps, "stale target must not arm the machine")
	assert.Len(t, fc.requestsOfKind(jdwp.KindSingleStep), 1)
}
