// Package compiler turns condition trees into pure observation predicates
// and rule lists into hash-bound executable predicates.
package compiler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/schema"
)

// Version names the predicate semantics. Any change to how a core operator
// evaluates must bump it so the identity digest changes.
const Version = "normkernel-compiler/1"

// Predicate is a compiled condition: pure, total and free of hidden state.
type Predicate func(norm.Observation) bool

// LeafFunc evaluates a deployment leaf over its literal arguments.
type LeafFunc func(obs norm.Observation, args []any) bool

// #region options

// Option configures a Compiler at construction.
type Option func(*Compiler)

// WithLeaf registers a deployment leaf predicate. The leaf set is frozen
// once New returns.
func WithLeaf(name string, arity schema.Arity, fn LeafFunc) Option {
	return func(c *Compiler) {
		op := norm.Op(name)
		c.grammar = c.grammar.WithLeaf(op, arity)
		c.leaves[op] = fn
	}
}

// WithLogger sets the logger used for compile diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// #endregion options

// #region compiler

// Compiler is immutable after New and safe for concurrent use.
type Compiler struct {
	grammar schema.Grammar
	leaves  map[norm.Op]LeafFunc
	id      canon.Digest
	logger  *zap.Logger
}

// New builds a compiler with the core grammar plus any registered leaves.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		grammar: schema.Core(),
		leaves:  make(map[norm.Op]LeafFunc),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.id = identity(c.grammar)
	return c
}

// Identity is the content hash of the compiler build: version, core
// operators and registered leaf signatures.
func (c *Compiler) Identity() canon.Digest {
	return c.id
}

// Grammar returns the frozen grammar this compiler accepts.
func (c *Compiler) Grammar() schema.Grammar {
	return c.grammar
}

func identity(g schema.Grammar) canon.Digest {
	type leafSig struct {
		Name  norm.Op      `json:"name"`
		Arity schema.Arity `json:"arity"`
	}
	leaves := make([]leafSig, 0)
	for _, op := range g.Leaves() {
		a, _ := g.LeafArity(op)
		leaves = append(leaves, leafSig{Name: op, Arity: a})
	}
	return canon.MustContentHash(map[string]any{
		"version": Version,
		"core":    norm.CoreOps,
		"leaves":  leaves,
	})
}

// #endregion compiler

// #region condition

// CompileCondition validates c against the grammar and returns its
// predicate. Every structural error surfaces here, never at evaluation.
func (c *Compiler) CompileCondition(cond norm.Condition) (Predicate, error) {
	if err := c.grammar.Condition(cond); err != nil {
		return nil, err
	}
	return c.build(cond)
}

func (c *Compiler) build(cond norm.Condition) (Predicate, error) {
	switch cond.Op {
	case norm.OpTrue:
		return func(norm.Observation) bool { return true }, nil
	case norm.OpFalse:
		return func(norm.Observation) bool { return false }, nil

	case norm.OpAnd, norm.OpOr:
		subs, err := c.buildAll(cond.Args)
		if err != nil {
			return nil, err
		}
		if cond.Op == norm.OpAnd {
			return func(o norm.Observation) bool {
				for _, p := range subs {
					if !p(o) {
						return false
					}
				}
				return true
			}, nil
		}
		return func(o norm.Observation) bool {
			for _, p := range subs {
				if p(o) {
					return true
				}
			}
			return false
		}, nil

	case norm.OpNot:
		subs, err := c.buildAll(cond.Args)
		if err != nil {
			return nil, err
		}
		inner := subs[0]
		return func(o norm.Observation) bool { return !inner(o) }, nil

	case norm.OpEq:
		field, want := cond.Args[0].(string), cond.Args[1]
		return func(o norm.Observation) bool {
			got, ok := o.Field(field)
			return ok && literalEqual(got, want)
		}, nil

	case norm.OpGt, norm.OpLt:
		field := cond.Args[0].(string)
		bound, _ := norm.Number(cond.Args[1])
		gt := cond.Op == norm.OpGt
		return func(o norm.Observation) bool {
			raw, ok := o.Field(field)
			if !ok {
				return false
			}
			v, ok := norm.Number(raw)
			if !ok {
				return false
			}
			if gt {
				return v > bound
			}
			return v < bound
		}, nil

	case norm.OpInState:
		label := cond.Args[0].(string)
		return func(o norm.Observation) bool { return o.InState(label) }, nil

	case norm.OpHasResource:
		name := cond.Args[0].(string)
		if len(cond.Args) == 2 {
			min, _ := norm.Number(cond.Args[1])
			return func(o norm.Observation) bool {
				v, ok := o.Resource(name)
				return ok && v >= min
			}, nil
		}
		return func(o norm.Observation) bool {
			v, ok := o.Resource(name)
			return ok && v > 0
		}, nil
	}

	fn, ok := c.leaves[cond.Op]
	if !ok {
		return nil, norm.UnknownOperatorf("%q", cond.Op)
	}
	args := append([]any(nil), cond.Args...)
	return func(o norm.Observation) bool { return fn(o, args) }, nil
}

func (c *Compiler) buildAll(args []any) ([]Predicate, error) {
	out := make([]Predicate, len(args))
	for i, a := range args {
		sub, ok := norm.AsCondition(a)
		if !ok {
			return nil, norm.Schemaf("operand %d is not a condition", i)
		}
		p, err := c.build(sub)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// literalEqual compares two scalar literals. Numbers compare by value so
// 2 and 2.0 are equal regardless of how they were decoded.
func literalEqual(a, b any) bool {
	if x, ok := norm.Number(a); ok {
		y, ok := norm.Number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// #endregion condition
