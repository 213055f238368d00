// Package contradiction decides whether an empty feasible set is a
// normative contradiction (law blocks an achievable binding obligation) or
// ordinary gridlock, and which rules are responsible.
package contradiction

import (
	"slices"
	"sort"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// Finding is the detector's verdict for one observation.
type Finding struct {
	Contradiction bool                   `json:"contradiction"`
	Kind          norm.ContradictionType `json:"kind,omitempty"`
	BindingRuleID string                 `json:"binding_rule_id,omitempty"`
	Target        string                 `json:"target,omitempty"`
	Progress      []string               `json:"progress,omitempty"`
	Blocking      []string               `json:"blocking,omitempty"`
	Expired       []string               `json:"expired,omitempty"`
}

// #region detect

// Detect inspects a mask result. A contradiction needs a binding obligation,
// an achievable target and an empty intersection with what the law permits.
// For direct-form obligations achievability is inventory membership.
func Detect(obs norm.Observation, law *compiler.CompiledLaw, res mask.Result, inv mask.Inventory) Finding {
	if law == nil || res.Binding == "" || len(res.Feasible) > 0 {
		return Finding{}
	}

	binding, ok := law.Predicate(res.Binding)
	if !ok {
		return Finding{}
	}
	var candidates []string
	if binding.Effect.ObligationTarget != "" {
		candidates = res.Progress
	} else if inv.Contains(res.Target) {
		candidates = []string{res.Target}
	}
	if len(candidates) == 0 {
		return Finding{}
	}

	blocking := []string{res.Binding}
	for _, p := range law.Predicates {
		if !slices.Contains(candidates, p.Action) {
			continue
		}
		active := p.Active(obs, law.NormHash)
		switch p.Type {
		case norm.Prohibition:
			if active {
				blocking = append(blocking, p.RuleID)
			}
		case norm.Permission:
			if !active {
				blocking = append(blocking, p.RuleID)
			}
		}
	}

	return Finding{
		Contradiction: true,
		Kind:          norm.ObligationBlocked,
		BindingRuleID: res.Binding,
		Target:        res.Target,
		Progress:      append([]string(nil), candidates...),
		Blocking:      sortedUnique(blocking),
		Expired:       Expired(law, obs.Episode),
	}
}

// CheckEpoch compares the compiled law's repair epoch with the one the
// environment asserts. A zero environment epoch asserts nothing. On
// mismatch every rule in force is reported as blocking, since continuity
// of the whole law is in question.
func CheckEpoch(obs norm.Observation, law *compiler.CompiledLaw, envEpoch canon.Digest) Finding {
	if law == nil || envEpoch.IsZero() || envEpoch == law.RepairEpoch {
		return Finding{}
	}
	var inForce []string
	for _, p := range law.Predicates {
		if p.Active(obs, law.NormHash) {
			inForce = append(inForce, p.RuleID)
		}
	}
	return Finding{
		Contradiction: true,
		Kind:          norm.EpochMismatch,
		Blocking:      sortedUnique(inForce),
		Expired:       Expired(law, obs.Episode),
	}
}

// Expired lists rules whose window closed at or before episode.
func Expired(law *compiler.CompiledLaw, episode int) []string {
	var out []string
	for _, p := range law.Predicates {
		if p.Expired(episode) {
			out = append(out, p.RuleID)
		}
	}
	return sortedUnique(out)
}

// #endregion detect

// #region trace

// Entry builds the trace record for a contradiction finding. The id is left
// empty for the trace log to assign.
func (f Finding) Entry(step int, obs norm.Observation, state norm.NormState) norm.TraceEntry {
	return norm.TraceEntry{
		Kind:            f.Kind,
		Step:            step,
		Episode:         obs.Episode,
		Regime:          obs.Regime,
		BindingRuleID:   f.BindingRuleID,
		Target:          f.Target,
		Progress:        append([]string(nil), f.Progress...),
		BlockingRuleIDs: append([]string{}, f.Blocking...),
		ExpiredRuleIDs:  append([]string(nil), f.Expired...),
		Observation:     obs,
		NormHash:        state.NormHash,
		Rev:             state.Rev,
	}
}

// #endregion trace

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return slices.Compact(out)
}
