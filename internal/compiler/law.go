package compiler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/schema"
)

// #region executable-predicate

// ExecutablePredicate is one compiled rule bound to the norm hash it was
// compiled under. Exceptions are already folded into its condition.
type ExecutablePredicate struct {
	RuleID         string
	Type           norm.RuleType
	Action         string
	Effect         norm.Effect
	Priority       int
	ExpiresEpisode *int
	Exceptions     []string
	Condition      norm.Condition
	NormHash       canon.Digest

	fn Predicate
}

// Evaluate reports whether the rule applies to action under obs. It is
// false for every action once the law has moved past the compiled hash.
func (p ExecutablePredicate) Evaluate(obs norm.Observation, action string, current canon.Digest) bool {
	if action != p.Action {
		return false
	}
	return p.Active(obs, current)
}

// Active reports whether the rule is unexpired and its condition holds,
// with the same hash guard as Evaluate.
func (p ExecutablePredicate) Active(obs norm.Observation, current canon.Digest) bool {
	if current != p.NormHash || p.fn == nil {
		return false
	}
	if p.Expired(obs.Episode) {
		return false
	}
	return p.fn(obs)
}

// Expired reports whether the rule's window closed before episode.
func (p ExecutablePredicate) Expired(episode int) bool {
	return p.ExpiresEpisode != nil && episode > *p.ExpiresEpisode
}

// #endregion executable-predicate

// #region compiled-law

// CompiledLaw is the full predicate set for one revision.
type CompiledLaw struct {
	NormHash    canon.Digest
	Rev         int
	RepairEpoch canon.Digest
	Form        norm.EffectForm
	CompilerID  canon.Digest
	Predicates  []ExecutablePredicate
}

// OfType returns the predicates of one rule type in rule order.
func (l *CompiledLaw) OfType(t norm.RuleType) []ExecutablePredicate {
	var out []ExecutablePredicate
	for _, p := range l.Predicates {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Predicate looks up the compiled form of a rule.
func (l *CompiledLaw) Predicate(ruleID string) (ExecutablePredicate, bool) {
	for _, p := range l.Predicates {
		if p.RuleID == ruleID {
			return p, true
		}
	}
	return ExecutablePredicate{}, false
}

// CompiledArtifact is the result of compiling a justification against a
// revision.
type CompiledArtifact struct {
	Justification norm.Justification
	Law           *CompiledLaw
	Digest        canon.Digest
}

// #endregion compiled-law

// #region compile-law

// CompileLaw compiles every rule in state. It fails on malformed rules,
// unknown operators, a norm hash that does not match the rules, and
// permission/prohibition collisions that cannot be shown disjoint.
func (c *Compiler) CompileLaw(state norm.NormState) (*CompiledLaw, error) {
	form, err := c.grammar.RuleSet(state.Rules)
	if err != nil {
		return nil, err
	}
	h, err := norm.NormHash(state.Rules)
	if err != nil {
		return nil, err
	}
	if h != state.NormHash {
		return nil, norm.Schemaf("norm_hash %s does not match rules (%s)", state.NormHash.Short(), h.Short())
	}

	exceptions := make(map[string][]norm.Rule)
	for _, r := range state.Rules {
		if r.IsException() {
			exceptions[r.ExceptionOf] = append(exceptions[r.ExceptionOf], r)
		}
	}

	law := &CompiledLaw{
		NormHash:    state.NormHash,
		Rev:         state.Rev,
		RepairEpoch: state.RepairEpoch,
		Form:        form,
		CompilerID:  c.id,
	}
	for _, r := range state.Rules {
		if r.IsException() {
			continue
		}
		p, err := c.compileRule(r, exceptions[r.ID], state.NormHash)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		law.Predicates = append(law.Predicates, p)
	}

	collisions, err := detectCollisions(law.Predicates)
	if err != nil {
		return nil, err
	}
	if len(collisions) > 0 {
		return nil, norm.Referencef("permission/prohibition collision: %s", describe(collisions))
	}

	c.logger.Debug("law compiled",
		zap.String("norm_hash", law.NormHash.Short()),
		zap.Int("rev", law.Rev),
		zap.Int("predicates", len(law.Predicates)),
		zap.String("form", string(form)),
	)
	return law, nil
}

func (c *Compiler) compileRule(r norm.Rule, excs []norm.Rule, normHash canon.Digest) (ExecutablePredicate, error) {
	cond := effectiveCondition(r, excs)
	fn, err := c.CompileCondition(cond)
	if err != nil {
		return ExecutablePredicate{}, err
	}
	p := ExecutablePredicate{
		RuleID:    r.ID,
		Type:      r.Type,
		Action:    r.Effect.Target(),
		Effect:    r.Effect,
		Priority:  r.Priority,
		Condition: cond,
		NormHash:  normHash,
		fn:        fn,
	}
	if r.ExpiresEpisode != nil {
		e := *r.ExpiresEpisode
		p.ExpiresEpisode = &e
	}
	for _, e := range excs {
		p.Exceptions = append(p.Exceptions, e.ID)
	}
	return p, nil
}

// effectiveCondition folds exceptions into the rule: AND(cond, NOT(e1), ...).
func effectiveCondition(r norm.Rule, excs []norm.Rule) norm.Condition {
	if len(excs) == 0 {
		return r.Condition.Clone()
	}
	parts := []norm.Condition{r.Condition.Clone()}
	for _, e := range excs {
		parts = append(parts, norm.Not(e.Condition.Clone()))
	}
	return norm.And(parts...)
}

// #endregion compile-law

// #region compile-justification

// Compile validates a justification, resolves its rule references against
// state and compiles the law it will be checked under.
func (c *Compiler) Compile(j norm.Justification, state norm.NormState) (*CompiledArtifact, error) {
	if err := schema.Justification(j); err != nil {
		return nil, err
	}
	for _, id := range j.RuleRefs {
		if !state.HasRule(id) {
			return nil, norm.Referencef("rule_refs: %q not in rev %d", id, state.Rev)
		}
	}
	if j.Conflict != nil {
		for _, id := range j.Conflict.RuleIDs {
			if !state.HasRule(id) {
				return nil, norm.Referencef("conflict: %q not in rev %d", id, state.Rev)
			}
		}
	}

	law, err := c.CompileLaw(state)
	if err != nil {
		return nil, err
	}
	d, err := canon.ContentHash(map[string]any{
		"justification": j,
		"norm_hash":     state.NormHash,
		"compiler":      c.id,
	})
	if err != nil {
		return nil, fmt.Errorf("hash artifact: %w", err)
	}
	return &CompiledArtifact{Justification: j, Law: law, Digest: d}, nil
}

// #endregion compile-justification
