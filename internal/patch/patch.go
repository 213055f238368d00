// Package patch applies NormPatch amendments to a rule list. Application is
// pure: the input revision is never modified and every call returns fresh
// rules.
package patch

import (
	"fmt"
	"slices"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/schema"
)

// Decision mirrors what the ledger will do with the result.
type Decision struct {
	Action string `json:"action"` // "commit" | "no_op"
	Reason string `json:"reason"`
}

// Result is the outcome of applying a patch list to one revision.
type Result struct {
	Rules     []norm.Rule
	PatchHash canon.Digest
	Touched   []string
	Decision  Decision
}

// #region apply

// Apply applies a single patch to rules and returns the new list.
func Apply(rules []norm.Rule, p norm.NormPatch, g schema.Grammar) ([]norm.Rule, error) {
	if err := g.Patch(p); err != nil {
		return nil, err
	}
	out := norm.CloneRules(rules)
	idx := slices.IndexFunc(out, func(r norm.Rule) bool { return r.ID == p.Touched() })

	switch p.Op {
	case norm.OpAdd:
		if idx >= 0 {
			return nil, norm.Referencef("ADD: rule %q already exists", p.NewRule.ID)
		}
		return append(out, p.NewRule.Clone()), nil

	case norm.OpRemove:
		if idx < 0 {
			return nil, norm.Referencef("REMOVE: rule %q not found", p.TargetRuleID)
		}
		return slices.DeleteFunc(out, func(r norm.Rule) bool {
			return r.ID == p.TargetRuleID || r.ExceptionOf == p.TargetRuleID
		}), nil

	case norm.OpReplace:
		if idx < 0 {
			return nil, norm.Referencef("REPLACE: rule %q not found", p.TargetRuleID)
		}
		next := p.NewRule.Clone()
		if next.ExceptionOf != out[idx].ExceptionOf {
			return nil, norm.Schemaf("REPLACE: rule %q must keep exception_of %q", next.ID, out[idx].ExceptionOf)
		}
		out[idx] = next
		return out, nil

	case norm.OpAddException:
		if idx < 0 {
			return nil, norm.Referencef("ADD_EXCEPTION: rule %q not found", p.TargetRuleID)
		}
		target := out[idx]
		if target.IsException() {
			return nil, norm.Schemaf("ADD_EXCEPTION: %q is itself an exception", target.ID)
		}
		if slices.ContainsFunc(out, func(r norm.Rule) bool { return r.ID == p.NewRule.ID }) {
			return nil, norm.Referencef("ADD_EXCEPTION: rule %q already exists", p.NewRule.ID)
		}
		return append(out, norm.Rule{
			ID:          p.NewRule.ID,
			Type:        target.Type,
			Condition:   p.NewRule.Condition.Clone(),
			ExceptionOf: target.ID,
		}), nil
	}
	return nil, norm.Schemaf("unknown patch op %q", p.Op)
}

// ApplyAll applies ops in order to state's rules and validates the
// resulting rule set as a whole. Nothing is committed here.
func ApplyAll(state norm.NormState, ops []norm.NormPatch, g schema.Grammar) (Result, error) {
	if len(ops) == 0 {
		return Result{}, norm.Schemaf("empty patch list")
	}
	rules := state.Rules
	touched := make([]string, 0, len(ops))
	for i, p := range ops {
		next, err := Apply(rules, p, g)
		if err != nil {
			return Result{}, fmt.Errorf("patch %d: %w", i, err)
		}
		rules = next
		if id := p.Touched(); !slices.Contains(touched, id) {
			touched = append(touched, id)
		}
	}
	if _, err := g.RuleSet(rules); err != nil {
		return Result{}, err
	}

	h, err := Hash(ops)
	if err != nil {
		return Result{}, err
	}
	after, err := norm.NormHash(rules)
	if err != nil {
		return Result{}, err
	}

	decision := Decision{Action: "no_op", Reason: "rule set unchanged"}
	if after != state.NormHash {
		decision = Decision{
			Action: "commit",
			Reason: fmt.Sprintf("%d op(s) touching %v", len(ops), touched),
		}
	}
	return Result{Rules: rules, PatchHash: h, Touched: touched, Decision: decision}, nil
}

// Hash is the content hash of a patch list, used as last_patch_hash.
func Hash(ops []norm.NormPatch) (canon.Digest, error) {
	d, err := canon.ContentHash(ops)
	if err != nil {
		return canon.Digest{}, fmt.Errorf("hash patch: %w", err)
	}
	return d, nil
}

// Next applies ops and derives the following revision. A non-zero epoch is
// recorded on the new revision; a zero epoch inherits the parent's.
func Next(state norm.NormState, ops []norm.NormPatch, g schema.Grammar, epoch canon.Digest) (norm.NormState, Result, error) {
	res, err := ApplyAll(state, ops, g)
	if err != nil {
		return norm.NormState{}, Result{}, err
	}
	next, err := norm.Derive(state, res.Rules, res.PatchHash, epoch)
	if err != nil {
		return norm.NormState{}, Result{}, err
	}
	return next, res, nil
}

// #endregion apply
