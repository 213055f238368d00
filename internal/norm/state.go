package norm

import (
	"fmt"

	"github.com/macterra/Axio-sub017/internal/canon"
)

// #region norm-state

// NormState is one immutable revision of the law. A revision is never
// mutated in place; every patch yields a new value via Derive.
type NormState struct {
	NormHash      canon.Digest `json:"norm_hash"`
	Rules         []Rule       `json:"rules"`
	Rev           int          `json:"rev"`
	LastPatchHash canon.Digest `json:"last_patch_hash"`
	LedgerRoot    canon.Digest `json:"ledger_root"`
	RepairEpoch   canon.Digest `json:"repair_epoch"`
}

// Rule looks up a rule by id.
func (s NormState) Rule(id string) (Rule, bool) {
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// HasRule reports whether id exists in this revision.
func (s NormState) HasRule(id string) bool {
	_, ok := s.Rule(id)
	return ok
}

// #endregion norm-state

// #region hashing

// NormHash is the pure function of the canonical rule list.
func NormHash(rules []Rule) (canon.Digest, error) {
	if rules == nil {
		rules = []Rule{}
	}
	d, err := canon.ContentHash(CloneRules(rules))
	if err != nil {
		return canon.Digest{}, fmt.Errorf("norm hash: %w", err)
	}
	return d, nil
}

// NextLedgerRoot computes ledger_root_n = H(ledger_root_{n-1} ∥ last_patch_hash_n).
func NextLedgerRoot(prev, patchHash canon.Digest) canon.Digest {
	return canon.ChainDigests(prev, patchHash)
}

// #endregion hashing

// #region derive

// Genesis builds revision 0. The genesis rule list acts as its own patch, so
// last_patch_hash_0 = norm_hash_0 and ledger_root_0 = H(zero ∥ norm_hash_0).
func Genesis(rules []Rule) (NormState, error) {
	h, err := NormHash(rules)
	if err != nil {
		return NormState{}, err
	}
	return NormState{
		NormHash:      h,
		Rules:         CloneRules(rules),
		Rev:           0,
		LastPatchHash: h,
		LedgerRoot:    NextLedgerRoot(canon.Digest{}, h),
	}, nil
}

// Derive produces the revision that follows prev once rules are in force.
// A zero epoch keeps prev's repair epoch; only contradiction-driven
// revisions pass a new one.
func Derive(prev NormState, rules []Rule, patchHash, epoch canon.Digest) (NormState, error) {
	h, err := NormHash(rules)
	if err != nil {
		return NormState{}, err
	}
	if epoch.IsZero() {
		epoch = prev.RepairEpoch
	}
	return NormState{
		NormHash:      h,
		Rules:         CloneRules(rules),
		Rev:           prev.Rev + 1,
		LastPatchHash: patchHash,
		LedgerRoot:    NextLedgerRoot(prev.LedgerRoot, patchHash),
		RepairEpoch:   epoch,
	}, nil
}

// #endregion derive
