package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/kernel"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
)

// LiveEpoch in an epoch field stands for the ledger's repair epoch at the
// moment the step runs.
const LiveEpoch = "live"

// #region fixture-types

// Fixture is one recorded run: genesis law, environment tables and the
// ordered proposals, each with its expected outcome.
type Fixture struct {
	Description string           `json:"description" yaml:"description"`
	Rules       []norm.Rule      `json:"rules" yaml:"rules"`
	Config      FixtureConfig    `json:"config" yaml:"config"`
	Oracle      mask.TableOracle `json:"oracle" yaml:"oracle"`
	Inventory   []string         `json:"inventory,omitempty" yaml:"inventory,omitempty"`
	Steps       []FixtureStep    `json:"steps" yaml:"steps"`

	// Path is where the fixture was loaded from, if anywhere.
	Path string `json:"-" yaml:"-"`
}

// FixtureConfig mirrors kernel.Config with serialization tags.
type FixtureConfig struct {
	MaxRepairs        int                `json:"max_repairs" yaml:"max_repairs"`
	MaxRepairAttempts int                `json:"max_repair_attempts" yaml:"max_repair_attempts"`
	Form              norm.EffectForm    `json:"form,omitempty" yaml:"form,omitempty"`
	Probes            []norm.Observation `json:"probes,omitempty" yaml:"probes,omitempty"`
}

// FixtureStep is one proposal. At most one of Justification, Repair and
// Patch is set; none means the step only evaluates the mask.
type FixtureStep struct {
	ID            string              `json:"id" yaml:"id"`
	Obs           norm.Observation    `json:"obs" yaml:"obs"`
	Justification *norm.Justification `json:"justification,omitempty" yaml:"justification,omitempty"`
	Repair        *FixtureRepair      `json:"repair,omitempty" yaml:"repair,omitempty"`
	Patch         []norm.NormPatch    `json:"patch,omitempty" yaml:"patch,omitempty"`

	// EnvEpoch is the epoch the environment asserts: "", "live" or hex.
	EnvEpoch string `json:"env_epoch,omitempty" yaml:"env_epoch,omitempty"`
	Nonce    string `json:"nonce,omitempty" yaml:"nonce,omitempty"`

	Expect FixtureExpect `json:"expect" yaml:"expect"`
}

// FixtureRepair is a LAW_REPAIR whose run-dependent fields may be left for
// the harness to fill. An empty trace entry id cites the open
// contradiction; an empty contradiction type or nil regime copies it from
// that entry. PriorEpoch is "", "live" or hex.
type FixtureRepair struct {
	CitedTraceEntryID string                 `json:"cited_trace_entry_id,omitempty" yaml:"cited_trace_entry_id,omitempty"`
	CitedRuleIDs      []string               `json:"cited_rule_ids" yaml:"cited_rule_ids"`
	PatchOps          []norm.NormPatch       `json:"patch_ops" yaml:"patch_ops"`
	PriorEpoch        string                 `json:"prior_epoch,omitempty" yaml:"prior_epoch,omitempty"`
	ContradictionType norm.ContradictionType `json:"contradiction_type,omitempty" yaml:"contradiction_type,omitempty"`
	Regime            *int                   `json:"regime,omitempty" yaml:"regime,omitempty"`
}

// FixtureExpect is what a step must produce. Empty fields are not checked
// except Code, where "" expects success.
type FixtureExpect struct {
	Status        kernel.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Code          string        `json:"code,omitempty" yaml:"code,omitempty"`
	Feasible      []string      `json:"feasible,omitempty" yaml:"feasible,omitempty"`
	Binding       string        `json:"binding,omitempty" yaml:"binding,omitempty"`
	Contradiction *bool         `json:"contradiction,omitempty" yaml:"contradiction,omitempty"`
	Rev           *int          `json:"rev,omitempty" yaml:"rev,omitempty"`
}

// #endregion fixture-types

// #region load

// LoadFixture reads a fixture from path. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("fixture %s: no rules", path)
	}
	f.Path = path
	return &f, nil
}

// LoadFixtures loads every path in order.
func LoadFixtures(paths []string) ([]*Fixture, error) {
	out := make([]*Fixture, 0, len(paths))
	for _, p := range paths {
		f, err := LoadFixture(p)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// #endregion load

// #region conversion

// KernelConfig converts the fixture config, falling back to kernel
// defaults for zero limits.
func (c FixtureConfig) KernelConfig() kernel.Config {
	kc := kernel.DefaultConfig()
	if c.MaxRepairAttempts > 0 {
		kc.MaxRepairAttempts = c.MaxRepairAttempts
	}
	if c.MaxRepairs > 0 {
		kc.Gate.MaxRepairs = c.MaxRepairs
	}
	kc.Gate.Probes = c.Probes
	kc.Form = c.Form
	return kc
}

// Action resolves the repair against the open contradiction and the live
// epoch.
func (r FixtureRepair) Action(pending norm.TraceEntry, live canon.Digest) (norm.RepairAction, error) {
	a := norm.RepairAction{
		CitedTraceEntryID:  r.CitedTraceEntryID,
		CitedRuleIDs:       r.CitedRuleIDs,
		PatchOps:           r.PatchOps,
		ContradictionType:  r.ContradictionType,
		RegimeAtSubmission: pending.Regime,
	}
	if a.CitedTraceEntryID == "" {
		a.CitedTraceEntryID = pending.ID
	}
	if a.ContradictionType == "" {
		a.ContradictionType = pending.Kind
	}
	if r.Regime != nil {
		a.RegimeAtSubmission = *r.Regime
	}
	epoch, err := resolveEpoch(r.PriorEpoch, live)
	if err != nil {
		return norm.RepairAction{}, fmt.Errorf("prior epoch: %w", err)
	}
	a.PriorRepairEpoch = epoch
	return a, nil
}

func resolveEpoch(s string, live canon.Digest) (canon.Digest, error) {
	switch s {
	case "":
		return canon.Digest{}, nil
	case LiveEpoch:
		return live, nil
	}
	return canon.ParseDigest(s)
}

// #endregion conversion
