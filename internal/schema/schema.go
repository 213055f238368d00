// Package schema checks structural well-formedness of rules, conditions,
// patches, justifications and repairs against the frozen grammar. It never
// evaluates anything; a value that passes here is safe to hand to the
// compiler.
package schema

import (
	"fmt"
	"slices"
	"sort"
	"unicode/utf8"

	"github.com/macterra/Axio-sub017/internal/norm"
)

// MaxDepth bounds condition nesting so compilation is always finite.
const MaxDepth = 64

// #region grammar

// Arity is the accepted argument count range for a deployment leaf.
// Max < 0 means unbounded.
type Arity struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

func (a Arity) accepts(n int) bool {
	return n >= a.Min && (a.Max < 0 || n <= a.Max)
}

// Grammar is the frozen operator set: the core operators plus any
// deployment leaves registered at construction. Grammars are values; adding
// a leaf returns a new grammar.
type Grammar struct {
	leaves map[norm.Op]Arity
}

// Core returns the grammar with no deployment leaves.
func Core() Grammar {
	return Grammar{}
}

// WithLeaf returns a copy of g that also accepts the named leaf.
func (g Grammar) WithLeaf(op norm.Op, a Arity) Grammar {
	next := make(map[norm.Op]Arity, len(g.leaves)+1)
	for k, v := range g.leaves {
		next[k] = v
	}
	next[op] = a
	return Grammar{leaves: next}
}

// Leaves returns the deployment leaf names in sorted order.
func (g Grammar) Leaves() []norm.Op {
	out := make([]norm.Op, 0, len(g.leaves))
	for op := range g.leaves {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LeafArity reports the registered arity of a deployment leaf.
func (g Grammar) LeafArity(op norm.Op) (Arity, bool) {
	a, ok := g.leaves[op]
	return a, ok
}

// Known reports whether op is accepted by g.
func (g Grammar) Known(op norm.Op) bool {
	if op.IsCore() {
		return true
	}
	_, ok := g.leaves[op]
	return ok
}

// #endregion grammar

// #region condition

// Condition validates a condition tree.
func (g Grammar) Condition(c norm.Condition) error {
	return g.condition(c, "condition", 1)
}

func (g Grammar) condition(c norm.Condition, path string, depth int) error {
	if depth > MaxDepth {
		return norm.Schemaf("%s: nesting exceeds %d", path, MaxDepth)
	}
	if c.Op == "" {
		return norm.Schemaf("%s: missing op", path)
	}
	n := len(c.Args)

	switch c.Op {
	case norm.OpTrue, norm.OpFalse:
		if n != 0 {
			return norm.Schemaf("%s: %s takes no args, got %d", path, c.Op, n)
		}
		return nil

	case norm.OpAnd, norm.OpOr:
		if n < 1 {
			return norm.Schemaf("%s: %s needs at least one operand", path, c.Op)
		}
		return g.operands(c, path, depth)

	case norm.OpNot:
		if n != 1 {
			return norm.Schemaf("%s: NOT takes exactly one operand, got %d", path, n)
		}
		return g.operands(c, path, depth)

	case norm.OpEq:
		if n != 2 {
			return norm.Schemaf("%s: EQ takes (field, literal), got %d args", path, n)
		}
		if err := fieldName(c.Args[0], path); err != nil {
			return err
		}
		if !isScalar(c.Args[1]) {
			return norm.Schemaf("%s.args[1]: EQ literal must be a string, number or bool", path)
		}
		return nil

	case norm.OpGt, norm.OpLt:
		if n != 2 {
			return norm.Schemaf("%s: %s takes (field, number), got %d args", path, c.Op, n)
		}
		if err := fieldName(c.Args[0], path); err != nil {
			return err
		}
		if _, ok := norm.Number(c.Args[1]); !ok {
			return norm.Schemaf("%s.args[1]: %s bound must be a number", path, c.Op)
		}
		return nil

	case norm.OpInState:
		if n != 1 {
			return norm.Schemaf("%s: IN_STATE takes one label, got %d args", path, n)
		}
		return fieldName(c.Args[0], path)

	case norm.OpHasResource:
		if n < 1 || n > 2 {
			return norm.Schemaf("%s: HAS_RESOURCE takes (name[, min]), got %d args", path, n)
		}
		if err := fieldName(c.Args[0], path); err != nil {
			return err
		}
		if n == 2 {
			if _, ok := norm.Number(c.Args[1]); !ok {
				return norm.Schemaf("%s.args[1]: HAS_RESOURCE minimum must be a number", path)
			}
		}
		return nil
	}

	arity, ok := g.leaves[c.Op]
	if !ok {
		return norm.UnknownOperatorf("%s: %q", path, c.Op)
	}
	if !arity.accepts(n) {
		return norm.Schemaf("%s: leaf %s got %d args", path, c.Op, n)
	}
	for i, a := range c.Args {
		if !isScalar(a) {
			return norm.Schemaf("%s.args[%d]: leaf arguments must be literals", path, i)
		}
	}
	return nil
}

func (g Grammar) operands(c norm.Condition, path string, depth int) error {
	for i, a := range c.Args {
		sub, ok := norm.AsCondition(a)
		if !ok {
			return norm.Schemaf("%s.args[%d]: %s operand must be a condition", path, i, c.Op)
		}
		if err := g.condition(sub, fmt.Sprintf("%s.args[%d]", path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func fieldName(v any, path string) error {
	s, ok := v.(string)
	if !ok || s == "" {
		return norm.Schemaf("%s.args[0]: expected a non-empty name", path)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := norm.Number(v)
	return ok
}

// #endregion condition

// #region rule

// Rule validates a single rule in isolation.
func (g Grammar) Rule(r norm.Rule) error {
	return g.rule(r, "rule")
}

func (g Grammar) rule(r norm.Rule, path string) error {
	if r.ID == "" {
		return norm.Schemaf("%s: missing id", path)
	}
	for _, name := range []string{r.ID, r.ExceptionOf, r.Effect.ActionClass, r.Effect.ObligationTarget} {
		if !utf8.ValidString(name) {
			return norm.Schemaf("%s: identifier %q is not valid UTF-8", path, name)
		}
	}
	path = fmt.Sprintf("%s(%s)", path, r.ID)
	if !r.Type.Valid() {
		return norm.Schemaf("%s: unknown rule type %q", path, r.Type)
	}
	if r.ExpiresEpisode != nil && *r.ExpiresEpisode < 0 {
		return norm.Schemaf("%s: expires_episode must be non-negative", path)
	}
	if err := g.condition(r.Condition, path+".condition", 1); err != nil {
		return err
	}

	e := r.Effect
	if r.IsException() {
		if r.ExceptionOf == r.ID {
			return norm.Schemaf("%s: rule cannot be an exception to itself", path)
		}
		if !e.IsZero() {
			return norm.Schemaf("%s: exception rules carry no effect", path)
		}
		return nil
	}

	switch r.Type {
	case norm.Permission, norm.Prohibition:
		if e.ActionClass == "" || e.ObligationTarget != "" {
			return norm.Schemaf("%s: %s effect must name exactly an action_class", path, r.Type)
		}
	case norm.Obligation:
		if (e.ActionClass == "") == (e.ObligationTarget == "") {
			return norm.Schemaf("%s: obligation effect must name either action_class or obligation_target", path)
		}
	}
	return nil
}

// RuleSet validates a whole rule list and reports the obligation form it
// uses. An empty form means the list carries no obligations.
func (g Grammar) RuleSet(rules []norm.Rule) (norm.EffectForm, error) {
	byID := make(map[string]norm.Rule, len(rules))
	for i, r := range rules {
		if err := g.rule(r, fmt.Sprintf("rules[%d]", i)); err != nil {
			return norm.FormNone, err
		}
		if _, dup := byID[r.ID]; dup {
			return norm.FormNone, norm.Schemaf("rules[%d]: duplicate id %q", i, r.ID)
		}
		byID[r.ID] = r
	}

	form := norm.FormNone
	for i, r := range rules {
		if r.IsException() {
			target, ok := byID[r.ExceptionOf]
			if !ok {
				return norm.FormNone, norm.Referencef("rules[%d](%s): exception_of %q does not exist", i, r.ID, r.ExceptionOf)
			}
			if target.IsException() {
				return norm.FormNone, norm.Schemaf("rules[%d](%s): exception of an exception", i, r.ID)
			}
			if target.Type != r.Type {
				return norm.FormNone, norm.Schemaf("rules[%d](%s): exception type %s differs from target %s", i, r.ID, r.Type, target.Type)
			}
			continue
		}
		if r.Type != norm.Obligation {
			continue
		}
		f := norm.FormDirect
		if r.Effect.ObligationTarget != "" {
			f = norm.FormGoal
		}
		if form != norm.FormNone && form != f {
			return norm.FormNone, norm.Schemaf("rules[%d](%s): mixes %s and %s obligation forms", i, r.ID, form, f)
		}
		form = f
	}
	return form, nil
}

// #endregion rule

// #region patch

// Patch validates the shape of one amendment. Reference checks against a
// concrete revision happen at application time.
func (g Grammar) Patch(p norm.NormPatch) error {
	return g.patch(p, "patch")
}

func (g Grammar) patch(p norm.NormPatch, path string) error {
	switch p.Op {
	case norm.OpAdd:
		if p.NewRule == nil {
			return norm.Schemaf("%s: ADD needs new_rule", path)
		}
		if p.TargetRuleID != "" && p.TargetRuleID != p.NewRule.ID {
			return norm.Schemaf("%s: ADD target_rule_id must match new_rule.id", path)
		}
		if p.NewRule.IsException() {
			return norm.Schemaf("%s: use ADD_EXCEPTION to add exceptions", path)
		}
		return g.rule(*p.NewRule, path+".new_rule")

	case norm.OpRemove:
		if p.TargetRuleID == "" {
			return norm.Schemaf("%s: REMOVE needs target_rule_id", path)
		}
		if p.NewRule != nil {
			return norm.Schemaf("%s: REMOVE takes no new_rule", path)
		}
		return nil

	case norm.OpReplace:
		if p.TargetRuleID == "" || p.NewRule == nil {
			return norm.Schemaf("%s: REPLACE needs target_rule_id and new_rule", path)
		}
		if p.NewRule.ID != p.TargetRuleID {
			return norm.Schemaf("%s: REPLACE must keep id %q", path, p.TargetRuleID)
		}
		return g.rule(*p.NewRule, path+".new_rule")

	case norm.OpAddException:
		if p.TargetRuleID == "" || p.NewRule == nil {
			return norm.Schemaf("%s: ADD_EXCEPTION needs target_rule_id and new_rule", path)
		}
		r := *p.NewRule
		if r.ID == "" {
			return norm.Schemaf("%s.new_rule: missing id", path)
		}
		if r.ExceptionOf != "" && r.ExceptionOf != p.TargetRuleID {
			return norm.Schemaf("%s.new_rule: exception_of must match target_rule_id", path)
		}
		if r.Type != "" && !r.Type.Valid() {
			return norm.Schemaf("%s.new_rule: unknown rule type %q", path, r.Type)
		}
		if !r.Effect.IsZero() {
			return norm.Schemaf("%s.new_rule: exception rules carry no effect", path)
		}
		return g.condition(r.Condition, path+".new_rule.condition", 1)
	}
	return norm.Schemaf("%s: unknown op %q", path, p.Op)
}

// #endregion patch

// #region proposals

// Justification validates the deliberator's structural proposal.
func Justification(j norm.Justification) error {
	if j.ActionID == "" {
		return norm.Schemaf("justification: missing action_id")
	}
	if len(j.RuleRefs) == 0 {
		return norm.Schemaf("justification: rule_refs must not be empty")
	}
	if err := uniqueIDs(j.RuleRefs, "justification.rule_refs"); err != nil {
		return err
	}
	if j.Conflict != nil {
		if len(j.Conflict.RuleIDs) < 2 {
			return norm.Schemaf("justification.conflict: needs at least two rule ids")
		}
		if err := uniqueIDs(j.Conflict.RuleIDs, "justification.conflict.rule_ids"); err != nil {
			return err
		}
	}
	return nil
}

// Repair validates a LAW_REPAIR proposal's shape.
func (g Grammar) Repair(r norm.RepairAction) error {
	if r.CitedTraceEntryID == "" {
		return norm.Schemaf("repair: missing cited_trace_entry_id")
	}
	if len(r.CitedRuleIDs) == 0 {
		return norm.Schemaf("repair: cited_rule_ids must not be empty")
	}
	if err := uniqueIDs(r.CitedRuleIDs, "repair.cited_rule_ids"); err != nil {
		return err
	}
	if len(r.PatchOps) == 0 {
		return norm.Schemaf("repair: patch_ops must not be empty")
	}
	for i, p := range r.PatchOps {
		if err := g.patch(p, fmt.Sprintf("repair.patch_ops[%d]", i)); err != nil {
			return err
		}
	}
	switch r.ContradictionType {
	case norm.ObligationBlocked, norm.EpochMismatch:
	default:
		return norm.Schemaf("repair: unknown contradiction_type %q", r.ContradictionType)
	}
	if r.RegimeAtSubmission < 0 {
		return norm.Schemaf("repair: regime_at_submission must be non-negative")
	}
	return nil
}

func uniqueIDs(ids []string, path string) error {
	seen := make([]string, 0, len(ids))
	for i, id := range ids {
		if id == "" {
			return norm.Schemaf("%s[%d]: empty id", path, i)
		}
		if slices.Contains(seen, id) {
			return norm.Schemaf("%s[%d]: duplicate id %q", path, i, id)
		}
		seen = append(seen, id)
	}
	return nil
}

// #endregion proposals
