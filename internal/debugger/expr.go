package debugger

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// pinnedPrefix is the client-visible syntax for addressing an object the
// adapter pinned earlier: __novaPinned[<handle>].
const pinnedPrefix = "__novaPinned"

// The evaluator grammar is deliberately tiny: a base (this, a local, or a
// pinned-object reference) followed by .field and [index] segments. It
// exists to serve evaluate, breakpoint conditions and logpoint templates,
// not to be a language.

type baseKind int

const (
	baseThis baseKind = iota
	baseLocal
	basePinned
)

type exprBase struct {
	kind   baseKind
	name   string // baseLocal
	pinned int    // basePinned
}

type exprSegment struct {
	isIndex bool
	field   string
	index   int
}

type parsedExpr struct {
	base     exprBase
	segments []exprSegment
}

// parseExpr parses the restricted identifier/field/index grammar.
func parseExpr(src string) (parsedExpr, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return parsedExpr{}, fmt.Errorf("empty expression")
	}
	var out parsedExpr

	ident, rest, err := scanIdent(s)
	if err != nil {
		return parsedExpr{}, err
	}
	switch {
	case ident == "this":
		out.base = exprBase{kind: baseThis}
	case ident == pinnedPrefix:
		handle, r, err := scanIndex(rest)
		if err != nil {
			return parsedExpr{}, fmt.Errorf("malformed pinned reference")
		}
		out.base = exprBase{kind: basePinned, pinned: handle}
		rest = r
	default:
		out.base = exprBase{kind: baseLocal, name: ident}
	}

	for rest != "" {
		switch rest[0] {
		case '.':
			field, r, err := scanIdent(rest[1:])
			if err != nil {
				return parsedExpr{}, err
			}
			out.segments = append(out.segments, exprSegment{field: field})
			rest = r
		case '[':
			idx, r, err := scanIndex(rest)
			if err != nil {
				return parsedExpr{}, err
			}
			out.segments = append(out.segments, exprSegment{isIndex: true, index: idx})
			rest = r
		default:
			return parsedExpr{}, fmt.Errorf("unexpected %q", rest)
		}
	}
	return out, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// scanIdent consumes one identifier from the front of s.
func scanIdent(s string) (string, string, error) {
	if s == "" || !isIdentStart(rune(s[0])) {
		return "", "", fmt.Errorf("expected identifier at %q", s)
	}
	i := 0
	for i < len(s) && isIdentPart(rune(s[i])) {
		i++
	}
	return s[:i], s[i:], nil
}

// scanIndex consumes a bracketed non-negative integer from the front of s.
func scanIndex(s string) (int, string, error) {
	if s == "" || s[0] != '[' {
		return 0, "", fmt.Errorf("expected '[' at %q", s)
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return 0, "", fmt.Errorf("unterminated index in %q", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s[1:end]))
	if err != nil || n < 0 {
		return 0, "", fmt.Errorf("bad index %q", s[1:end])
	}
	return n, s[end+1:], nil
}

// Conditions use a narrower grammar still: a boolean or integer literal, a
// single comparison between two int-valued operands, or a bare identifier
// treated as boolean-ish.

type condKind int

const (
	condLiteral condKind = iota
	condIdent
	condCompare
)

type condOperand struct {
	isLit bool
	lit   int64
	ident string
}

type condition struct {
	kind    condKind
	literal bool // condLiteral: truthiness of the literal
	ident   string
	op      string
	lhs     condOperand
	rhs     condOperand
}

var compareOps = []string{"==", "!=", "<=", ">=", "<", ">"}

// parseCondition parses a breakpoint condition. Anything outside the
// grammar is an error; the caller picks the stop-or-continue fallback.
func parseCondition(src string) (condition, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return condition{}, fmt.Errorf("empty condition")
	}

	for _, op := range compareOps {
		if i := strings.Index(s, op); i >= 0 {
			lhs, err := parseOperand(s[:i])
			if err != nil {
				return condition{}, err
			}
			rhs, err := parseOperand(s[i+len(op):])
			if err != nil {
				return condition{}, err
			}
			return condition{kind: condCompare, op: op, lhs: lhs, rhs: rhs}, nil
		}
	}

	switch s {
	case "true":
		return condition{kind: condLiteral, literal: true}, nil
	case "false":
		return condition{kind: condLiteral, literal: false}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return condition{kind: condLiteral, literal: n != 0}, nil
	}
	if ident, rest, err := scanIdent(s); err == nil && rest == "" {
		return condition{kind: condIdent, ident: ident}, nil
	}
	return condition{}, fmt.Errorf("unsupported condition %q", src)
}

func parseOperand(src string) (condOperand, error) {
	s := strings.TrimSpace(src)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return condOperand{isLit: true, lit: n}, nil
	}
	if ident, rest, err := scanIdent(s); err == nil && rest == "" {
		return condOperand{ident: ident}, nil
	}
	return condOperand{}, fmt.Errorf("bad operand %q", src)
}

// needsLocals reports whether evaluating the condition requires a locals
// snapshot.
func (c condition) needsLocals() bool {
	switch c.kind {
	case condIdent:
		return true
	case condCompare:
		return !c.lhs.isLit || !c.rhs.isLit
	}
	return false
}

func compareInts(op string, a, b int64) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

// Hit conditions: a bare integer N (fire from the Nth hit on), %N (every
// Nth hit), or a comparator against N.

type hitMode int

const (
	hitAtLeast hitMode = iota
	hitMultiple
	hitCompare
)

type hitCondition struct {
	mode hitMode
	op   string
	n    int64
}

func parseHitCondition(src string) (hitCondition, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return hitCondition{}, fmt.Errorf("empty hit condition")
	}
	if s[0] == '%' {
		n, err := strconv.ParseInt(strings.TrimSpace(s[1:]), 10, 64)
		if err != nil || n <= 0 {
			return hitCondition{}, fmt.Errorf("bad hit condition %q", src)
		}
		return hitCondition{mode: hitMultiple, n: n}, nil
	}
	for _, op := range compareOps {
		if strings.HasPrefix(s, op) {
			n, err := strconv.ParseInt(strings.TrimSpace(s[len(op):]), 10, 64)
			if err != nil {
				return hitCondition{}, fmt.Errorf("bad hit condition %q", src)
			}
			return hitCondition{mode: hitCompare, op: op, n: n}, nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return hitCondition{}, fmt.Errorf("bad hit condition %q", src)
	}
	return hitCondition{mode: hitAtLeast, n: n}, nil
}

// matches reports whether the running hit count satisfies the condition.
func (h hitCondition) matches(count int64) bool {
	switch h.mode {
	case hitAtLeast:
		return count >= h.n
	case hitMultiple:
		return count%h.n == 0
	default:
		return compareInts(h.op, count, h.n)
	}
}

// Log templates substitute {identifier} with the stringified local from a
// one-shot snapshot. Doubled braces escape; unresolved references render
// verbatim.

type logSegment struct {
	literal string
	ref     string // non-empty for {identifier} segments
}

func parseLogTemplate(msg string) []logSegment {
	var out []logSegment
	var lit strings.Builder
	for i := 0; i < len(msg); {
		switch {
		case strings.HasPrefix(msg[i:], "{{"):
			lit.WriteByte('{')
			i += 2
		case strings.HasPrefix(msg[i:], "}}"):
			lit.WriteByte('}')
			i += 2
		case msg[i] == '{':
			end := strings.IndexByte(msg[i:], '}')
			if end < 0 {
				lit.WriteString(msg[i:])
				i = len(msg)
				break
			}
			name := msg[i+1 : i+end]
			if ident, rest, err := scanIdent(name); err == nil && rest == "" {
				if lit.Len() > 0 {
					out = append(out, logSegment{literal: lit.String()})
					lit.Reset()
				}
				out = append(out, logSegment{ref: ident})
			} else {
				// Not a plain identifier: keep the braces as written.
				lit.WriteString(msg[i : i+end+1])
			}
			i += end + 1
		default:
			lit.WriteByte(msg[i])
			i++
		}
	}
	if lit.Len() > 0 {
		out = append(out, logSegment{literal: lit.String()})
	}
	return out
}

// templateRefs lists the identifiers a template references.
func templateRefs(segments []logSegment) []string {
	var refs []string
	for _, s := range segments {
		if s.ref != "" {
			refs = append(refs, s.ref)
		}
	}
	return refs
}
