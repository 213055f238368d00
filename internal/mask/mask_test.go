package mask

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub017/internal/compiler"
	"github.com/macterra/Axio-sub017/internal/norm"
)

func obligation(id, target string, priority int) norm.Rule {
	return norm.Rule{ID: id, Type: norm.Obligation, Condition: norm.True(),
		Effect: norm.Effect{ObligationTarget: target}, Priority: priority}
}

func permission(id, action string, c norm.Condition) norm.Rule {
	return norm.Rule{ID: id, Type: norm.Permission, Condition: c, Effect: norm.Effect{ActionClass: action}}
}

func compile(t *testing.T, rules ...norm.Rule) (*compiler.CompiledLaw, norm.NormState) {
	t.Helper()
	s, err := norm.Genesis(rules)
	require.NoError(t, err)
	law, err := compiler.New().CompileLaw(s)
	require.NoError(t, err)
	return law, s
}

var depositOracle = TableOracle{
	{Target: "DEPOSIT@ZoneA", Actions: []string{"MOVE", "DEPOSIT"}, Rank: 2},
	{Target: "DEPOSIT@ZoneB", Actions: []string{"DEPOSIT"}, Rank: 1},
}

func TestPriorityResolution(t *testing.T) {
	law, s := compile(t,
		obligation("R1", "DEPOSIT@ZoneA", 10),
		obligation("R2", "DEPOSIT@ZoneB", 5),
		permission("R3", "MOVE", norm.True()),
	)
	res, err := Mask(norm.Observation{Episode: 1}, law, s, depositOracle)
	require.NoError(t, err)
	assert.Equal(t, "R1", res.Binding)
	assert.Equal(t, "DEPOSIT@ZoneA", res.Target)
	if diff := cmp.Diff([]string{"MOVE"}, res.Feasible); diff != "" {
		t.Fatalf("feasible mismatch (-want +got):\n%s", diff)
	}
}

func TestPriorityTieIsReferenceError(t *testing.T) {
	law, s := compile(t,
		obligation("R1", "DEPOSIT@ZoneA", 5),
		obligation("R2", "DEPOSIT@ZoneB", 5),
	)
	res, err := Mask(norm.Observation{}, law, s, depositOracle)
	require.Error(t, err)
	assert.True(t, errors.Is(err, norm.ErrReference))
	assert.Empty(t, res.Feasible)
}

func TestNoObligationPermittedMinusProhibited(t *testing.T) {
	law, s := compile(t,
		permission("P1", "MOVE", norm.True()),
		permission("P2", "COLLECT", norm.True()),
		permission("P3", "SCAN", norm.InState("LIT")),
		norm.Rule{ID: "Q1", Type: norm.Prohibition, Condition: norm.True(), Effect: norm.Effect{ActionClass: "REST"}},
	)
	res, err := Mask(norm.Observation{}, law, s, nil)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"COLLECT", "MOVE"}, res.Feasible); diff != "" {
		t.Fatalf("feasible mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"REST"}, res.Prohibited)
	assert.False(t, res.Gridlock())
}

func TestExpiredObligationDropsOut(t *testing.T) {
	r1 := obligation("R1", "DEPOSIT@ZoneA", 10)
	r1.ExpiresEpisode = norm.Episode(1)
	law, s := compile(t, r1, obligation("R2", "DEPOSIT@ZoneB", 5), permission("R5", "DEPOSIT", norm.True()))

	res, err := Mask(norm.Observation{Episode: 2}, law, s, depositOracle)
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, res.Active)
	assert.Equal(t, []string{"DEPOSIT"}, res.Feasible)
}

func TestDirectForm(t *testing.T) {
	law, s := compile(t,
		norm.Rule{ID: "O", Type: norm.Obligation, Condition: norm.True(), Effect: norm.Effect{ActionClass: "DEPOSIT"}},
		permission("P", "DEPOSIT", norm.InState("DOCKED")),
		permission("M", "MOVE", norm.True()),
	)
	docked, err := Mask(norm.Observation{State: []string{"DOCKED"}}, law, s, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"DEPOSIT"}, docked.Feasible)

	away, err := Mask(norm.Observation{}, law, s, nil)
	require.NoError(t, err)
	assert.Empty(t, away.Feasible)
	assert.Equal(t, "O", away.Binding)
	assert.False(t, away.Gridlock())
}

func TestStaleLawIsRejected(t *testing.T) {
	law, _ := compile(t, permission("P", "MOVE", norm.True()))
	_, other := compile(t, permission("P", "COLLECT", norm.True()))
	_, err := Mask(norm.Observation{}, law, other, nil)
	assert.True(t, errors.Is(err, norm.ErrStaleRevision))
}

func TestMaskIsDeterministic(t *testing.T) {
	law, s := compile(t,
		obligation("R2", "DEPOSIT@ZoneA", 5),
		permission("A", "MOVE", norm.True()),
		permission("B", "DEPOSIT", norm.True()),
	)
	obs := norm.Observation{Episode: 3, Fields: map[string]any{"zone": "A"}}
	first, err := Mask(obs, law, s, depositOracle)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Mask(obs, law, s, depositOracle)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
	assert.Equal(t, []string{"DEPOSIT", "MOVE"}, first.Feasible)
}

func TestSnapshotOracleIsEpisodeBound(t *testing.T) {
	snap := SnapshotOracle{Episode: 4, Targets: map[string]Progress{
		"DEPOSIT@ZoneB": {Actions: []string{"MOVE", "DEPOSIT", "MOVE"}, Rank: 3, Known: true},
	}}
	assert.Equal(t, []string{"DEPOSIT", "MOVE"}, snap.ProgressSet(norm.Observation{Episode: 4}, "DEPOSIT@ZoneB"))
	assert.Nil(t, snap.ProgressSet(norm.Observation{Episode: 5}, "DEPOSIT@ZoneB"))
	r, ok := snap.Rank(norm.Observation{Episode: 4}, "DEPOSIT@ZoneB")
	assert.True(t, ok)
	assert.Equal(t, 3.0, r)
}

func TestTableOracleStateQualifier(t *testing.T) {
	o := TableOracle{
		{Target: "HOME", State: "LOST", Actions: []string{"SCAN"}, Rank: 9},
		{Target: "HOME", Actions: []string{"MOVE"}, Rank: 1},
	}
	assert.Equal(t, []string{"SCAN"}, o.ProgressSet(norm.Observation{State: []string{"LOST"}}, "HOME"))
	assert.Equal(t, []string{"MOVE"}, o.ProgressSet(norm.Observation{}, "HOME"))
	assert.Nil(t, o.ProgressSet(norm.Observation{}, "AWAY"))
}
