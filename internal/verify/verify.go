// Package verify audits a persisted revision history offline: norm hashes,
// revision numbering, the ledger_root chain and the repair_epoch chain.
package verify

import (
	"fmt"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/epoch"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// #region history
// History recomputes every derived field of revs and links and reports each
// check by name. It never stops at the first failure.
func History(revs []norm.NormState, links []epoch.Link) Report {
	checks := []Check{
		genesis(revs),
		normHashes(revs),
		revContinuity(revs),
		ledgerRoots(revs),
		epochLinks(revs, links),
		repairEpochs(revs, links),
	}

	passed := true
	var failReasons []string
	for _, c := range checks {
		if !c.Pass {
			passed = false
			failReasons = append(failReasons, fmt.Sprintf("%s: %s", c.Name, c.Detail))
		}
	}

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("verify failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("verify failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}
	return Report{Passed: passed, Checks: checks, Reason: reason}
}

// #endregion history

// #region checks
func genesis(revs []norm.NormState) Check {
	c := Check{Name: "genesis"}
	if len(revs) == 0 {
		c.Detail = "history is empty"
		return c
	}
	g := revs[0]
	switch {
	case g.Rev != 0:
		c.Detail = fmt.Sprintf("first revision is rev %d", g.Rev)
	case g.LastPatchHash != g.NormHash:
		c.Detail = "genesis last_patch_hash differs from norm_hash"
	case g.LedgerRoot != norm.NextLedgerRoot(canon.Digest{}, g.NormHash):
		c.Detail = "genesis ledger_root does not chain from zero"
	case !g.RepairEpoch.IsZero():
		c.Detail = "genesis carries a repair epoch"
	default:
		c.Pass = true
	}
	return c
}

func normHashes(revs []norm.NormState) Check {
	c := Check{Name: "norm_hash", Pass: true}
	for _, r := range revs {
		h, err := norm.NormHash(r.Rules)
		if err != nil {
			return Check{Name: c.Name, Detail: fmt.Sprintf("rev %d: %v", r.Rev, err)}
		}
		if h != r.NormHash {
			return Check{Name: c.Name, Detail: fmt.Sprintf("rev %d: stored %s, recomputed %s", r.Rev, r.NormHash.Short(), h.Short())}
		}
	}
	return c
}

func revContinuity(revs []norm.NormState) Check {
	for i, r := range revs {
		if r.Rev != i {
			return Check{Name: "rev_continuity", Detail: fmt.Sprintf("position %d holds rev %d", i, r.Rev)}
		}
	}
	return Check{Name: "rev_continuity", Pass: true}
}

func ledgerRoots(revs []norm.NormState) Check {
	for i := 1; i < len(revs); i++ {
		want := norm.NextLedgerRoot(revs[i-1].LedgerRoot, revs[i].LastPatchHash)
		if revs[i].LedgerRoot != want {
			return Check{Name: "ledger_root", Detail: fmt.Sprintf("rev %d: root %s, expected %s", revs[i].Rev, revs[i].LedgerRoot.Short(), want.Short())}
		}
	}
	return Check{Name: "ledger_root", Pass: true}
}

func epochLinks(revs []norm.NormState, links []epoch.Link) Check {
	c := Check{Name: "epoch_links"}
	if err := epoch.Verify(links); err != nil {
		c.Detail = err.Error()
		return c
	}
	for i, l := range links {
		if l.Rev <= 0 || l.Rev >= len(revs) {
			c.Detail = fmt.Sprintf("link %d points at missing rev %d", i, l.Rev)
			return c
		}
		prev := revs[l.Rev-1]
		if want := epoch.Parent(prev.RepairEpoch, prev.NormHash); l.Parent != want {
			c.Detail = fmt.Sprintf("link %d does not extend rev %d", i, prev.Rev)
			return c
		}
	}
	c.Pass = true
	return c
}

// repairEpochs checks that the epoch moves only at linked revisions.
func repairEpochs(revs []norm.NormState, links []epoch.Link) Check {
	byRev := make(map[int]canon.Digest, len(links))
	for _, l := range links {
		byRev[l.Rev] = l.Epoch
	}
	for i := 1; i < len(revs); i++ {
		want := revs[i-1].RepairEpoch
		if e, ok := byRev[revs[i].Rev]; ok {
			want = e
		}
		if revs[i].RepairEpoch != want {
			return Check{Name: "repair_epoch", Detail: fmt.Sprintf("rev %d: epoch %s, expected %s", revs[i].Rev, revs[i].RepairEpoch.Short(), want.Short())}
		}
	}
	return Check{Name: "repair_epoch", Pass: true}
}

// #endregion checks
