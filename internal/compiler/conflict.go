package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"github.com/macterra/Axio-sub017/internal/norm"
)

// conflictProgram derives every permission/prohibition pair naming the same
// action whose conditions were not shown disjoint. Disjointness facts are
// computed syntactically in Go; the program only closes over them.
const conflictProgram = `
Decl permits(Rule, Action).
Decl prohibits(Rule, Action).
Decl disjoint(Left, Right).
Decl collision(Permission, Prohibition, Action).

collision(P, Q, A) :- permits(P, A), prohibits(Q, A), !disjoint(P, Q).
`

// Collision is one statically detected permission/prohibition clash.
type Collision struct {
	Permission  string
	Prohibition string
	Action      string
}

// #region detect

func detectCollisions(preds []ExecutablePredicate) ([]Collision, error) {
	var perms, prohibs []ExecutablePredicate
	for _, p := range preds {
		switch p.Type {
		case norm.Permission:
			perms = append(perms, p)
		case norm.Prohibition:
			prohibs = append(prohibs, p)
		}
	}
	if len(perms) == 0 || len(prohibs) == 0 {
		return nil, nil
	}

	unit, err := parse.Unit(strings.NewReader(conflictProgram))
	if err != nil {
		return nil, fmt.Errorf("parse conflict program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze conflict program: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	for _, p := range perms {
		store.Add(ast.NewAtom("permits", ast.String(p.RuleID), ast.String(p.Action)))
	}
	for _, q := range prohibs {
		store.Add(ast.NewAtom("prohibits", ast.String(q.RuleID), ast.String(q.Action)))
	}
	for _, p := range perms {
		for _, q := range prohibs {
			if p.Action == q.Action && Disjoint(p.Condition, q.Condition) {
				store.Add(ast.NewAtom("disjoint", ast.String(p.RuleID), ast.String(q.RuleID)))
			}
		}
	}

	if _, err := engine.EvalProgramWithStats(programInfo, store); err != nil {
		return nil, fmt.Errorf("evaluate conflict program: %w", err)
	}

	var out []Collision
	query := ast.NewQuery(ast.PredicateSym{Symbol: "collision", Arity: 3})
	err = store.GetFacts(query, func(a ast.Atom) error {
		out = append(out, Collision{
			Permission:  symbol(a.Args[0]),
			Prohibition: symbol(a.Args[1]),
			Action:      symbol(a.Args[2]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query collisions: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		if out[i].Permission != out[j].Permission {
			return out[i].Permission < out[j].Permission
		}
		return out[i].Prohibition < out[j].Prohibition
	})
	return out, nil
}

func symbol(t ast.BaseTerm) string {
	if c, ok := t.(ast.Constant); ok {
		return c.Symbol
	}
	return t.String()
}

func describe(cs []Collision) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("%s permits and %s prohibits %s", c.Permission, c.Prohibition, c.Action)
	}
	return strings.Join(parts, "; ")
}

// #endregion detect

// #region disjointness

// Disjoint reports whether a and b are trivially provably never true
// together. It is conservative: false means "could overlap".
func Disjoint(a, b norm.Condition) bool {
	as, bs := conjuncts(a), conjuncts(b)
	for _, c := range as {
		if c.IsFalse() {
			return true
		}
	}
	for _, c := range bs {
		if c.IsFalse() {
			return true
		}
	}
	for _, x := range as {
		for _, y := range bs {
			if excludes(x, y) || excludes(y, x) {
				return true
			}
		}
	}
	return false
}

func conjuncts(c norm.Condition) []norm.Condition {
	if c.Op != norm.OpAnd {
		return []norm.Condition{c}
	}
	var out []norm.Condition
	for _, a := range c.Args {
		sub, ok := norm.AsCondition(a)
		if !ok {
			continue
		}
		out = append(out, conjuncts(sub)...)
	}
	return out
}

// excludes reports whether x and y cannot both hold, checking the cases
// where x carries the negation or the lower bound.
func excludes(x, y norm.Condition) bool {
	if x.Op == norm.OpNot && len(x.Args) == 1 {
		if inner, ok := norm.AsCondition(x.Args[0]); ok && inner.Equal(y) {
			return true
		}
	}
	if len(x.Args) != 2 || len(y.Args) != 2 {
		return false
	}
	fx, okx := x.Args[0].(string)
	fy, oky := y.Args[0].(string)
	if !okx || !oky || fx != fy {
		return false
	}

	switch {
	case x.Op == norm.OpEq && y.Op == norm.OpEq:
		return !literalEqual(x.Args[1], y.Args[1])
	case x.Op == norm.OpGt && y.Op == norm.OpLt:
		lo, ok1 := norm.Number(x.Args[1])
		hi, ok2 := norm.Number(y.Args[1])
		return ok1 && ok2 && hi <= lo
	case x.Op == norm.OpEq && y.Op == norm.OpGt:
		v, ok1 := norm.Number(x.Args[1])
		lo, ok2 := norm.Number(y.Args[1])
		return ok1 && ok2 && v <= lo
	case x.Op == norm.OpEq && y.Op == norm.OpLt:
		v, ok1 := norm.Number(x.Args[1])
		hi, ok2 := norm.Number(y.Args[1])
		return ok1 && ok2 && v >= hi
	}
	return false
}

// #endregion disjointness
