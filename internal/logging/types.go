package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	Rev          int
	NormHash     string
	TriggerType  string // "genesis" | "patch" | "repair" | "justification"
	TraceEntryID string
	Rule         string // repair stage, e.g. "R10"
	Code         string // reason code, e.g. "PATCH_STACKING"
	DetailJSON   string
	Decision     string // "commit" | "reject" | "no_op" | "halt"
	Reason       string
	CreatedAt    time.Time
}
// #endregion decision-entry

// #region repair-record
// RepairRecord captures what a repair decision saw, serialized into
// decision_log.detail_json for offline review.
type RepairRecord struct {
	CitedTraceEntryID string   `json:"cited_trace_entry_id"`
	CitedRuleIDs      []string `json:"cited_rule_ids"`
	Touched           []string `json:"touched,omitempty"`
	Regime            int      `json:"regime"`
	PriorEpoch        string   `json:"prior_epoch,omitempty"`
	Epoch             string   `json:"epoch,omitempty"`
	Passed            []string `json:"passed"`
}
// #endregion repair-record
