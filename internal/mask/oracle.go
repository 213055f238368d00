package mask

import (
	"slices"
	"sort"

	"github.com/macterra/Axio-sub017/internal/norm"
)

// Oracle is the environment's view of goal-directed progress. Both methods
// must be pure functions of their arguments.
type Oracle interface {
	// ProgressSet returns the actions that reduce distance to target.
	ProgressSet(obs norm.Observation, target string) []string
	// Rank returns the distance to target; ok is false when unknown.
	Rank(obs norm.Observation, target string) (rank float64, ok bool)
}

// #region table-oracle

// TableEntry maps a target, optionally qualified by a state label, to its
// progress actions and rank.
type TableEntry struct {
	Target  string   `json:"target" yaml:"target"`
	State   string   `json:"state,omitempty" yaml:"state,omitempty"`
	Actions []string `json:"actions" yaml:"actions"`
	Rank    float64  `json:"rank" yaml:"rank"`
}

// TableOracle resolves targets from a static table. The first entry whose
// target matches and whose state label (if any) is present wins.
type TableOracle []TableEntry

func (t TableOracle) lookup(obs norm.Observation, target string) (TableEntry, bool) {
	for _, e := range t {
		if e.Target != target {
			continue
		}
		if e.State != "" && !obs.InState(e.State) {
			continue
		}
		return e, true
	}
	return TableEntry{}, false
}

// ProgressSet implements Oracle.
func (t TableOracle) ProgressSet(obs norm.Observation, target string) []string {
	e, ok := t.lookup(obs, target)
	if !ok {
		return nil
	}
	return normalize(e.Actions)
}

// Rank implements Oracle.
func (t TableOracle) Rank(obs norm.Observation, target string) (float64, bool) {
	e, ok := t.lookup(obs, target)
	if !ok {
		return 0, false
	}
	return e.Rank, true
}

// #endregion table-oracle

// #region snapshot-oracle

// Progress is one target's resolved progress set and rank.
type Progress struct {
	Actions []string `json:"actions"`
	Rank    float64  `json:"rank"`
	Known   bool     `json:"known"`
}

// SnapshotOracle answers for a single observation fetched ahead of time,
// so evaluation never performs I/O.
type SnapshotOracle struct {
	Episode int                 `json:"episode"`
	Targets map[string]Progress `json:"targets"`
}

// ProgressSet implements Oracle. A snapshot taken for another episode
// answers nothing.
func (s SnapshotOracle) ProgressSet(obs norm.Observation, target string) []string {
	if obs.Episode != s.Episode {
		return nil
	}
	return normalize(s.Targets[target].Actions)
}

// Rank implements Oracle.
func (s SnapshotOracle) Rank(obs norm.Observation, target string) (float64, bool) {
	if obs.Episode != s.Episode {
		return 0, false
	}
	p, ok := s.Targets[target]
	if !ok || !p.Known {
		return 0, false
	}
	return p.Rank, true
}

// #endregion snapshot-oracle

// #region inventory

// Inventory is the set of action classes the environment can physically
// execute. It decides achievability for direct-form obligations.
type Inventory []string

// Contains reports whether action is physically available.
func (inv Inventory) Contains(action string) bool {
	return slices.Contains(inv, action)
}

// #endregion inventory

// normalize returns a sorted, duplicate-free copy.
func normalize(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return slices.Compact(out)
}
