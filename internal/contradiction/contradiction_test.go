package contradiction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/mask"
	"github.com/macterra/Axio-sub017/internal/norm"
)

func scenario(t *testing.T, deposit norm.Condition) (*compiler.CompiledLaw, norm.NormState) {
	t.Helper()
	rules := []norm.Rule{
		{ID: "R1", Type: norm.Obligation, Condition: norm.True(), Effect: norm.Effect{ObligationTarget: "DEPOSIT@ZoneA"}, Priority: 10, ExpiresEpisode: norm.Episode(1)},
		{ID: "R2", Type: norm.Obligation, Condition: norm.True(), Effect: norm.Effect{ObligationTarget: "DEPOSIT@ZoneB"}, Priority: 5},
		{ID: "R3", Type: norm.Permission, Condition: norm.True(), Effect: norm.Effect{ActionClass: "COLLECT"}},
		{ID: "R4", Type: norm.Permission, Condition: norm.True(), Effect: norm.Effect{ActionClass: "MOVE"}},
		{ID: "R5", Type: norm.Permission, Condition: deposit, Effect: norm.Effect{ActionClass: "DEPOSIT"}},
	}
	s, err := norm.Genesis(rules)
	require.NoError(t, err)
	law, err := compiler.New().CompileLaw(s)
	require.NoError(t, err)
	return law, s
}

func run(t *testing.T, law *compiler.CompiledLaw, s norm.NormState, obs norm.Observation, o mask.Oracle) Finding {
	t.Helper()
	res, err := mask.Mask(obs, law, s, o)
	require.NoError(t, err)
	return Detect(obs, law, res, nil)
}

func TestBlockedObligationIsContradiction(t *testing.T) {
	law, s := scenario(t, norm.Eq("zone", "A"))
	oracle := mask.TableOracle{{Target: "DEPOSIT@ZoneB", Actions: []string{"DEPOSIT"}}}
	obs := norm.Observation{Episode: 2, Fields: map[string]any{"zone": "B"}}

	f := run(t, law, s, obs, oracle)
	require.True(t, f.Contradiction)
	assert.Equal(t, norm.ObligationBlocked, f.Kind)
	assert.Equal(t, "R2", f.BindingRuleID)
	assert.Equal(t, []string{"R2", "R5"}, f.Blocking)
	assert.Equal(t, []string{"R1"}, f.Expired)

	e := f.Entry(7, obs, s)
	assert.Equal(t, 7, e.Step)
	assert.Equal(t, s.NormHash, e.NormHash)
	assert.True(t, e.Blocks("R5"))
}

func TestEmptyProgressIsGridlock(t *testing.T) {
	law, s := scenario(t, norm.Eq("zone", "A"))
	obs := norm.Observation{Episode: 2, Fields: map[string]any{"zone": "B"}}
	f := run(t, law, s, obs, mask.TableOracle{})
	assert.False(t, f.Contradiction)
}

func TestPermittedProgressIsNotContradiction(t *testing.T) {
	law, s := scenario(t, norm.True())
	oracle := mask.TableOracle{{Target: "DEPOSIT@ZoneB", Actions: []string{"DEPOSIT"}}}
	f := run(t, law, s, norm.Observation{Episode: 2}, oracle)
	assert.False(t, f.Contradiction)
}

func TestProhibitionJoinsBlockingSet(t *testing.T) {
	rules := []norm.Rule{
		{ID: "O", Type: norm.Obligation, Condition: norm.True(), Effect: norm.Effect{ObligationTarget: "HOME"}, Priority: 1},
		{ID: "P", Type: norm.Permission, Condition: norm.Eq("zone", "A"), Effect: norm.Effect{ActionClass: "MOVE"}},
		{ID: "Q", Type: norm.Prohibition, Condition: norm.Eq("zone", "B"), Effect: norm.Effect{ActionClass: "MOVE"}},
	}
	s, err := norm.Genesis(rules)
	require.NoError(t, err)
	law, err := compiler.New().CompileLaw(s)
	require.NoError(t, err)

	f := run(t, law, s, norm.Observation{Fields: map[string]any{"zone": "B"}}, mask.TableOracle{{Target: "HOME", Actions: []string{"MOVE"}}})
	require.True(t, f.Contradiction)
	assert.Equal(t, []string{"O", "P", "Q"}, f.Blocking)
}

func TestDirectFormUsesInventory(t *testing.T) {
	rules := []norm.Rule{
		{ID: "O", Type: norm.Obligation, Condition: norm.True(), Effect: norm.Effect{ActionClass: "DEPOSIT"}, Priority: 1},
		{ID: "P", Type: norm.Permission, Condition: norm.InState("DOCKED"), Effect: norm.Effect{ActionClass: "DEPOSIT"}},
	}
	s, err := norm.Genesis(rules)
	require.NoError(t, err)
	law, err := compiler.New().CompileLaw(s)
	require.NoError(t, err)
	res, err := mask.Mask(norm.Observation{}, law, s, nil)
	require.NoError(t, err)

	assert.False(t, Detect(norm.Observation{}, law, res, nil).Contradiction, "unavailable action is gridlock")
	f := Detect(norm.Observation{}, law, res, mask.Inventory{"DEPOSIT", "MOVE"})
	require.True(t, f.Contradiction)
	assert.Equal(t, []string{"O", "P"}, f.Blocking)
}

func TestCheckEpoch(t *testing.T) {
	law, _ := scenario(t, norm.True())
	obs := norm.Observation{Episode: 2}
	assert.False(t, CheckEpoch(obs, law, canon.Digest{}).Contradiction)

	f := CheckEpoch(obs, law, canon.HashBytes([]byte("elsewhere")))
	require.True(t, f.Contradiction)
	assert.Equal(t, norm.EpochMismatch, f.Kind)
	assert.Equal(t, []string{"R2", "R3", "R4", "R5"}, f.Blocking)
}
