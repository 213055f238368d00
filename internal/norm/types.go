package norm

import (
	"encoding/json"
	"slices"

	"github.com/macterra/Axio-sub017/internal/canon"
)

// #region rule-type

// RuleType enumerates the three normative rule kinds.
type RuleType string

const (
	Permission  RuleType = "PERMISSION"
	Prohibition RuleType = "PROHIBITION"
	Obligation  RuleType = "OBLIGATION"
)

// Valid reports whether t is one of the three rule kinds.
func (t RuleType) Valid() bool {
	switch t {
	case Permission, Prohibition, Obligation:
		return true
	}
	return false
}

// #endregion rule-type

// #region effect

// Effect names what a rule permits, prohibits or obliges. Permissions and
// prohibitions always carry an ActionClass. Obligations carry either an
// ActionClass (direct form) or an ObligationTarget (goal form).
type Effect struct {
	ActionClass      string `json:"action_class,omitempty" yaml:"action_class,omitempty"`
	ObligationTarget string `json:"obligation_target,omitempty" yaml:"obligation_target,omitempty"`
}

// Target returns whichever of the two effect fields is set.
func (e Effect) Target() string {
	if e.ObligationTarget != "" {
		return e.ObligationTarget
	}
	return e.ActionClass
}

// IsZero reports whether neither field is set.
func (e Effect) IsZero() bool {
	return e.ActionClass == "" && e.ObligationTarget == ""
}

// EffectForm is the obligation model a rule list uses.
type EffectForm string

const (
	FormNone   EffectForm = ""
	FormDirect EffectForm = "direct"
	FormGoal   EffectForm = "goal"
)

// #endregion effect

// #region rule

// Rule is one normative rule. IDs are unique within a revision.
type Rule struct {
	ID             string    `json:"id" yaml:"id"`
	Type           RuleType  `json:"type" yaml:"type"`
	Condition      Condition `json:"condition" yaml:"condition"`
	Effect         Effect    `json:"effect" yaml:"effect"`
	Priority       int       `json:"priority" yaml:"priority"`
	ExpiresEpisode *int      `json:"expires_episode,omitempty" yaml:"expires_episode,omitempty"`

	// ExceptionOf is set on rules created by ADD_EXCEPTION. Such a rule
	// suspends its target wherever its own condition holds.
	ExceptionOf string `json:"exception_of,omitempty" yaml:"exception_of,omitempty"`
}

// ActiveAt reports whether the rule has not yet expired at episode.
func (r Rule) ActiveAt(episode int) bool {
	return r.ExpiresEpisode == nil || episode <= *r.ExpiresEpisode
}

// IsException reports whether r was added as an exception to another rule.
func (r Rule) IsException() bool {
	return r.ExceptionOf != ""
}

// Clone returns a deep copy so revisions never share mutable state.
func (r Rule) Clone() Rule {
	out := r
	out.Condition = r.Condition.Clone()
	if r.ExpiresEpisode != nil {
		e := *r.ExpiresEpisode
		out.ExpiresEpisode = &e
	}
	return out
}

// Episode is a helper for building ExpiresEpisode literals.
func Episode(n int) *int {
	return &n
}

// CloneRules deep-copies a rule list.
func CloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}

// #endregion rule

// #region observation

// Observation is the environment-supplied world snapshot a step is
// evaluated against. Compiled predicates read it structurally only.
type Observation struct {
	Episode   int                `json:"episode" yaml:"episode"`
	Regime    int                `json:"regime" yaml:"regime"`
	State     []string           `json:"state,omitempty" yaml:"state,omitempty"`
	Resources map[string]float64 `json:"resources,omitempty" yaml:"resources,omitempty"`
	Fields    map[string]any     `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// InState reports whether label is among the active state labels.
func (o Observation) InState(label string) bool {
	return slices.Contains(o.State, label)
}

// Resource returns the held quantity of name.
func (o Observation) Resource(name string) (float64, bool) {
	v, ok := o.Resources[name]
	return v, ok
}

// Field returns a scalar feature.
func (o Observation) Field(name string) (any, bool) {
	v, ok := o.Fields[name]
	return v, ok
}

// #endregion observation

// #region patch

// PatchOp enumerates amendment operations.
type PatchOp string

const (
	OpAdd          PatchOp = "ADD"
	OpRemove       PatchOp = "REMOVE"
	OpReplace      PatchOp = "REPLACE"
	OpAddException PatchOp = "ADD_EXCEPTION"
)

// NormPatch is a single amendment to a rule list.
type NormPatch struct {
	Op               PatchOp `json:"op" yaml:"op"`
	TargetRuleID     string  `json:"target_rule_id,omitempty" yaml:"target_rule_id,omitempty"`
	NewRule          *Rule   `json:"new_rule,omitempty" yaml:"new_rule,omitempty"`
	JustificationRef string  `json:"justification_ref,omitempty" yaml:"justification_ref,omitempty"`
}

// Touched returns the id of the existing rule the patch modifies, or the
// new rule id for ADD.
func (p NormPatch) Touched() string {
	if p.TargetRuleID != "" {
		return p.TargetRuleID
	}
	if p.NewRule != nil {
		return p.NewRule.ID
	}
	return ""
}

// #endregion patch

// #region justification

// Conflict is a deliberator's claim that cited rules pull in opposite directions.
type Conflict struct {
	RuleIDs []string `json:"rule_ids" yaml:"rule_ids"`
	Note    string   `json:"note,omitempty" yaml:"note,omitempty"`
}

// Justification is the deliberator's structural proposal for an action.
type Justification struct {
	ActionID       string    `json:"action_id" yaml:"action_id"`
	RuleRefs       []string  `json:"rule_refs" yaml:"rule_refs"`
	Claims         []string  `json:"claims,omitempty" yaml:"claims,omitempty"`
	Conflict       *Conflict `json:"conflict,omitempty" yaml:"conflict,omitempty"`
	Counterfactual string    `json:"counterfactual,omitempty" yaml:"counterfactual,omitempty"`
}

// #endregion justification

// #region repair

// ContradictionType classifies why a repair was demanded.
type ContradictionType string

const (
	ObligationBlocked ContradictionType = "OBLIGATION_BLOCKED"
	EpochMismatch     ContradictionType = "EPOCH_MISMATCH"
)

// RepairAction is a LAW_REPAIR submitted under contradiction pressure.
type RepairAction struct {
	CitedTraceEntryID  string            `json:"cited_trace_entry_id" yaml:"cited_trace_entry_id"`
	CitedRuleIDs       []string          `json:"cited_rule_ids" yaml:"cited_rule_ids"`
	PatchOps           []NormPatch       `json:"patch_ops" yaml:"patch_ops"`
	PriorRepairEpoch   canon.Digest      `json:"prior_repair_epoch" yaml:"prior_repair_epoch"`
	ContradictionType  ContradictionType `json:"contradiction_type" yaml:"contradiction_type"`
	RegimeAtSubmission int               `json:"regime_at_submission" yaml:"regime_at_submission"`
}

// Fingerprint is the content hash of the whole repair.
func (r RepairAction) Fingerprint() (canon.Digest, error) {
	return canon.ContentHash(r)
}

// #endregion repair

// #region trace-entry

// TraceEntry records one detected contradiction. Entries are append-only
// and cited by repairs for causal traceability.
type TraceEntry struct {
	ID              string            `json:"id"`
	Kind            ContradictionType `json:"kind"`
	Step            int               `json:"step"`
	Episode         int               `json:"episode"`
	Regime          int               `json:"regime"`
	BindingRuleID   string            `json:"binding_rule_id,omitempty"`
	Target          string            `json:"target,omitempty"`
	Progress        []string          `json:"progress,omitempty"`
	BlockingRuleIDs []string          `json:"blocking_rule_ids"`
	ExpiredRuleIDs  []string          `json:"expired_rule_ids,omitempty"`
	Observation     Observation       `json:"observation"`
	NormHash        canon.Digest      `json:"norm_hash"`
	Rev             int               `json:"rev"`
}

// Blocks reports whether id is in the blocking-rule set.
func (e TraceEntry) Blocks(id string) bool {
	return slices.Contains(e.BlockingRuleIDs, id)
}

// #endregion trace-entry

// #region json-helpers

// Number converts a decoded numeric literal to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// #endregion json-helpers
