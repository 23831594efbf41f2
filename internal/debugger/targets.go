package debugger

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/google/go-dap"

	"github.com/novaide/nova-debug/internal/jdwp"
)

// stepTarget remembers which frame and call ordinal a handed-out target id
// refers to. Targets are valid only for the stop they were computed at; the
// table resets whenever the program resumes.
type stepTarget struct {
	Thread     jdwp.ThreadID
	Origin     jdwp.Location
	OriginLine int
	Ordinal    int
}

// StepInTargets lists the call expressions on the stopped frame's current
// line, in textual order. The ids it returns feed a later stepIn request.
func (d *Debugger) StepInTargets(ctx context.Context, frameID int) ([]dap.StepInTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fr, ok := d.frames.Lookup(frameID)
	if !ok {
		return nil, errStaleFrame(frameID)
	}
	line, err := d.lineAt(ctx, fr.Location)
	if err != nil {
		return nil, err
	}
	if line == 0 {
		return nil, nil
	}
	path, err := d.sourcePathFor(ctx, fr.Location.Class)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	sites, err := d.stepTargets.CallSites(path, line)
	if err != nil {
		d.logger.Debug("call site scan failed", "path", path, "line", line, "err", err)
		return nil, nil
	}

	out := make([]dap.StepInTarget, 0, len(sites))
	for i, site := range sites {
		d.nextStepTargetID++
		id := d.nextStepTargetID
		d.stepTargetsByID[id] = stepTarget{
			Thread:     fr.Thread,
			Origin:     fr.Location,
			OriginLine: line,
			Ordinal:    i,
		}
		out = append(out, dap.StepInTarget{Id: id, Label: site.Name, Line: line})
	}
	return out, nil
}

// clearStepTargets drops handed-out target ids. Runs on every resume.
func (d *Debugger) clearStepTargets() {
	clear(d.stepTargetsByID)
}

// sourcePathFor recovers a client-usable path for a class: the client path
// from a setBreakpoints call on the same file when one exists, otherwise the
// bare source name the class reports.
func (d *Debugger) sourcePathFor(ctx context.Context, class jdwp.ReferenceTypeID) (string, error) {
	base, err := d.sourceFileOf(ctx, class)
	if err != nil {
		if jdwp.IsCode(err, jdwp.ErrAbsentInformation) {
			return "", nil
		}
		return "", err
	}
	for key := range d.srcRequested {
		if baseName(key) == base {
			return key, nil
		}
	}
	return base, nil
}

// StepIn steps into the call selected by targetId, or performs a plain
// step-into when targetId is zero or stale.
func (d *Debugger) StepIn(ctx context.Context, thread jdwp.ThreadID, targetID int) error {
	if targetID != 0 {
		if t, ok := d.stepTargetsByID[targetID]; ok && t.Thread == thread {
			return d.startSmartStepInto(ctx, thread, t.Origin, t.OriginLine, t.Ordinal)
		}
	}
	return d.Step(ctx, thread, jdwp.StepInto)
}

// javaKeywords are identifiers that look like calls in source but are not.
var javaKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "synchronized": true, "new": true, "assert": true,
	"throw": true, "do": true, "else": true, "try": true,
}

var callSitePattern = regexp.MustCompile(`([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)

// sourceScanner enumerates call sites by scanning the source file on disk.
// It is the default StepTargetEnumerator; editors with richer indexes can
// substitute their own.
type sourceScanner struct{}

// NewSourceScanner returns the file-scanning call site enumerator.
func NewSourceScanner() StepTargetEnumerator { return sourceScanner{} }

// CallSites returns the calls on the given 1-based line, left to right.
func (sourceScanner) CallSites(path string, line int) ([]CallSite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return nil, nil
	}
	var out []CallSite
	for _, m := range callSitePattern.FindAllStringSubmatch(lines[line-1], -1) {
		if javaKeywords[m[1]] {
			continue
		}
		out = append(out, CallSite{Name: m[1]})
	}
	return out, nil
}
