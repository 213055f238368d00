// Package mask computes the feasible action set for one observation under
// one compiled revision of the law.
package mask

import (
	"slices"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// Result is the feasible set plus the intermediate sets that produced it.
type Result struct {
	NormHash   canon.Digest    `json:"norm_hash"`
	Form       norm.EffectForm `json:"form,omitempty"`
	Active     []string        `json:"active,omitempty"`
	Binding    string          `json:"binding,omitempty"`
	Target     string          `json:"target,omitempty"`
	Permitted  []string        `json:"permitted,omitempty"`
	Prohibited []string        `json:"prohibited,omitempty"`
	Progress   []string        `json:"progress,omitempty"`
	Feasible   []string        `json:"feasible"`
}

// Gridlock reports an empty feasible set with no binding obligation.
func (r Result) Gridlock() bool {
	return len(r.Feasible) == 0 && r.Binding == ""
}

// Admits reports whether action is in the feasible set.
func (r Result) Admits(action string) bool {
	return slices.Contains(r.Feasible, action)
}

// #region mask

// Mask evaluates law against obs. The oracle is consulted only when the
// binding obligation is goal-form.
func Mask(obs norm.Observation, law *compiler.CompiledLaw, state norm.NormState, oracle Oracle) (Result, error) {
	if law == nil {
		return Result{}, norm.Schemaf("mask: no compiled law")
	}
	if law.NormHash != state.NormHash {
		return Result{}, norm.Newf(norm.ErrStaleRevision, "mask: law compiled for %s, current %s", law.NormHash.Short(), state.NormHash.Short())
	}
	h := state.NormHash
	res := Result{NormHash: h, Form: law.Form}

	var permitted, prohibited []string
	for _, p := range law.OfType(norm.Permission) {
		if p.Evaluate(obs, p.Action, h) {
			permitted = append(permitted, p.Action)
		}
	}
	for _, p := range law.OfType(norm.Prohibition) {
		if p.Evaluate(obs, p.Action, h) {
			prohibited = append(prohibited, p.Action)
		}
	}
	res.Prohibited = normalize(prohibited)
	res.Permitted = normalize(slices.DeleteFunc(permitted, func(a string) bool {
		return slices.Contains(prohibited, a)
	}))

	var active []compiler.ExecutablePredicate
	for _, p := range law.OfType(norm.Obligation) {
		if p.Active(obs, h) {
			active = append(active, p)
			res.Active = append(res.Active, p.RuleID)
		}
	}

	if len(active) == 0 {
		res.Feasible = nonNil(res.Permitted)
		return res, nil
	}

	binding, err := Binding(active)
	if err != nil {
		return res, err
	}
	res.Binding = binding.RuleID
	res.Target = binding.Action

	if binding.Effect.ObligationTarget == "" {
		res.Feasible = []string{}
		if slices.Contains(res.Permitted, binding.Action) {
			res.Feasible = []string{binding.Action}
		}
		return res, nil
	}

	if oracle == nil {
		return res, norm.Schemaf("mask: goal-form obligation %s needs a progress oracle", binding.RuleID)
	}
	res.Progress = normalize(oracle.ProgressSet(obs, binding.Action))
	res.Feasible = intersect(res.Progress, res.Permitted)
	return res, nil
}

// Binding selects the single highest-priority obligation. A tie at the top
// priority is an authoring defect.
func Binding(active []compiler.ExecutablePredicate) (compiler.ExecutablePredicate, error) {
	if len(active) == 0 {
		return compiler.ExecutablePredicate{}, norm.Schemaf("binding: no active obligation")
	}
	top := active[0]
	var tied []string
	for _, p := range active[1:] {
		switch {
		case p.Priority > top.Priority:
			top, tied = p, nil
		case p.Priority == top.Priority:
			tied = append(tied, p.RuleID)
		}
	}
	if len(tied) > 0 {
		ids := append([]string{top.RuleID}, tied...)
		slices.Sort(ids)
		return compiler.ExecutablePredicate{}, norm.Referencef("priority tie at %d between %v", top.Priority, ids)
	}
	return top, nil
}

// #endregion mask

func intersect(a, b []string) []string {
	out := []string{}
	for _, x := range a {
		if slices.Contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
