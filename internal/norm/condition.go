package norm

import (
	"github.com/macterra/Axio-sub017/internal/canon"
)

// #region op

// Op is a condition operator from the frozen grammar.
type Op string

const (
	OpAnd         Op = "AND"
	OpOr          Op = "OR"
	OpNot         Op = "NOT"
	OpEq          Op = "EQ"
	OpGt          Op = "GT"
	OpLt          Op = "LT"
	OpInState     Op = "IN_STATE"
	OpHasResource Op = "HAS_RESOURCE"
	OpTrue        Op = "TRUE"
	OpFalse       Op = "FALSE"
)

// CoreOps is the closed operator set every deployment shares.
var CoreOps = []Op{OpAnd, OpOr, OpNot, OpEq, OpGt, OpLt, OpInState, OpHasResource, OpTrue, OpFalse}

// IsCore reports whether op belongs to the shared grammar.
func (op Op) IsCore() bool {
	for _, c := range CoreOps {
		if c == op {
			return true
		}
	}
	return false
}

// #endregion op

// #region condition

// Condition is a finite tree {op, args}. Args hold nested conditions for
// the connectives and literals for the leaves.
type Condition struct {
	Op   Op    `json:"op" yaml:"op"`
	Args []any `json:"args,omitempty" yaml:"args,omitempty"`
}

// AsCondition accepts a nested condition in any of the shapes it can take
// after construction in Go or decoding from JSON/YAML.
func AsCondition(v any) (Condition, bool) {
	switch c := v.(type) {
	case Condition:
		return c, true
	case *Condition:
		if c == nil {
			return Condition{}, false
		}
		return *c, true
	case map[string]any:
		op, ok := c["op"].(string)
		if !ok {
			return Condition{}, false
		}
		var args []any
		switch a := c["args"].(type) {
		case nil:
		case []any:
			args = a
		default:
			return Condition{}, false
		}
		return Condition{Op: Op(op), Args: args}, true
	}
	return Condition{}, false
}

// Clone deep-copies the tree, normalizing nested conditions to Condition
// values and empty argument lists to nil.
func (c Condition) Clone() Condition {
	out := Condition{Op: c.Op}
	if len(c.Args) == 0 {
		return out
	}
	out.Args = make([]any, len(c.Args))
	for i, a := range c.Args {
		if sub, ok := AsCondition(a); ok {
			out.Args[i] = sub.Clone()
			continue
		}
		out.Args[i] = a
	}
	return out
}

// Digest returns the canonical content hash of the condition. Trees built
// in Go and trees decoded from JSON with the same content hash equally.
func (c Condition) Digest() canon.Digest {
	return canon.MustContentHash(c.Clone())
}

// Equal compares two conditions by canonical content.
func (c Condition) Equal(other Condition) bool {
	return c.Digest() == other.Digest()
}

// IsTrue reports whether the condition is syntactically TRUE.
func (c Condition) IsTrue() bool { return c.Op == OpTrue }

// IsFalse reports whether the condition is syntactically FALSE.
func (c Condition) IsFalse() bool { return c.Op == OpFalse }

// #endregion condition

// #region builders

func True() Condition  { return Condition{Op: OpTrue} }
func False() Condition { return Condition{Op: OpFalse} }

func And(cs ...Condition) Condition { return Condition{Op: OpAnd, Args: wrap(cs)} }
func Or(cs ...Condition) Condition  { return Condition{Op: OpOr, Args: wrap(cs)} }
func Not(c Condition) Condition     { return Condition{Op: OpNot, Args: []any{c}} }

func Eq(field string, value any) Condition  { return Condition{Op: OpEq, Args: []any{field, value}} }
func Gt(field string, value any) Condition  { return Condition{Op: OpGt, Args: []any{field, value}} }
func Lt(field string, value any) Condition  { return Condition{Op: OpLt, Args: []any{field, value}} }
func InState(label string) Condition        { return Condition{Op: OpInState, Args: []any{label}} }
func HasResource(name string) Condition     { return Condition{Op: OpHasResource, Args: []any{name}} }
func HasAtLeast(name string, min any) Condition {
	return Condition{Op: OpHasResource, Args: []any{name, min}}
}

// Leaf builds a deployment-specific leaf predicate call.
func Leaf(name string, args ...any) Condition { return Condition{Op: Op(name), Args: args} }

func wrap(cs []Condition) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = c
	}
	return out
}

// #endregion builders
