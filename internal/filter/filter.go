package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/gyaneshwarpardhi/civicpulse/internal/event"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

func (o Operator) valid() bool {
	switch o {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpMatches:
		return true
	}
	return false
}

// Filter is a compiled expression. A nil *Filter matches everything.
type Filter struct {
	src  string
	root node
}

// Compile parses expr. An empty expression yields a nil Filter.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	root, err := parse(expr)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", expr, err)
	}
	return &Filter{src: expr, root: root}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Match reports whether ev satisfies the filter. Evaluation errors, such
// as a field the event does not carry, count as no match.
func (f *Filter) Match(ev event.Event) bool {
	if f == nil {
		return true
	}
	ok, err := f.root.eval(&eventFields{ev: ev})
	return err == nil && ok
}

// fields resolves dotted paths during evaluation.
type fields interface {
	lookup(path []string) (any, bool)
}

// eventFields exposes "type", "id" and "payload.<...>". The payload is
// flattened through its JSON form, so paths use the wire field names.
type eventFields struct {
	ev      event.Event
	payload map[string]any
	decoded bool
}

func (e *eventFields) lookup(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	switch path[0] {
	case "type":
		return string(e.ev.Type), len(path) == 1
	case "id":
		return e.ev.ID, len(path) == 1
	case "payload":
		if !e.decoded {
			e.decoded = true
			if b, err := json.Marshal(e.ev.Payload); err == nil {
				_ = json.Unmarshal(b, &e.payload)
			}
		}
		return walk(e.payload, path[1:])
	}
	return nil, false
}

func walk(m map[string]any, path []string) (any, bool) {
	if m == nil || len(path) == 0 {
		return nil, false
	}
	v, ok := m[path[0]]
	if !ok || len(path) == 1 {
		return v, ok
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return walk(sub, path[1:])
}

// ---------------------------------------------------------------------------
// evaluation
// ---------------------------------------------------------------------------

func (n *andNode) eval(f fields) (bool, error) {
	l, err := n.left.eval(f)
	if err != nil || !l {
		return false, err
	}
	return n.right.eval(f)
}

func (n *orNode) eval(f fields) (bool, error) {
	l, err := n.left.eval(f)
	if err == nil && l {
		return true, nil
	}
	// A failed left branch must not hide a matching right branch.
	return n.right.eval(f)
}

func (n *notNode) eval(f fields) (bool, error) {
	v, err := n.inner.eval(f)
	return !v, err
}

func (n *cmpNode) eval(f fields) (bool, error) {
	left, err := resolve(n.left, f)
	if err != nil {
		return false, err
	}
	right, err := resolve(n.right, f)
	if err != nil {
		return false, err
	}
	switch n.op {
	case OpEq:
		return equal(left, right), nil
	case OpNeq:
		return !equal(left, right), nil
	case OpGt, OpGte, OpLt, OpLte:
		return ordered(n.op, left, right)
	case OpContains:
		s, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("contains: left operand must be a string, got %T", left)
		}
		return strings.Contains(s, fmt.Sprint(right)), nil
	case OpMatches:
		s, ok := left.(string)
		if !ok {
			return false, fmt.Errorf("matches: left operand must be a string, got %T", left)
		}
		if n.re == nil {
			return false, fmt.Errorf("matches: pattern must be a literal")
		}
		return n.re.MatchString(s), nil
	}
	return false, fmt.Errorf("unknown operator %s", n.op)
}

func resolve(o operand, f fields) (any, error) {
	if !o.isField() {
		return o.value, nil
	}
	v, ok := f.lookup(o.path)
	if !ok {
		return nil, fmt.Errorf("field %q not found", strings.Join(o.path, "."))
	}
	return v, nil
}

func equal(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return math.Abs(af-bf) < 1e-9
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func ordered(op Operator, a, b any) (bool, error) {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if !aok || !bok {
		return false, fmt.Errorf("operator %s needs numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case OpGt:
		return af > bf, nil
	case OpGte:
		return af >= bf, nil
	case OpLt:
		return af < bf, nil
	default:
		return af <= bf, nil
	}
}
