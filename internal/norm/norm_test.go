package norm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/macterra/Axio-sub017/internal/canon"
)

func sampleRules() []Rule {
	return []Rule{
		{ID: "R1", Type: Obligation, Condition: True(), Effect: Effect{ObligationTarget: "DEPOSIT@ZoneA"}, Priority: 10, ExpiresEpisode: Episode(1)},
		{ID: "R3", Type: Permission, Condition: InState("HOLDING"), Effect: Effect{ActionClass: "COLLECT"}},
	}
}

func TestNormHashRejectsInvalidUTF8(t *testing.T) {
	a := []Rule{{ID: "P", Type: Permission, Condition: True(), Effect: Effect{ActionClass: "OPEN\xff"}}}
	b := []Rule{{ID: "P", Type: Permission, Condition: True(), Effect: Effect{ActionClass: "OPEN\xfe"}}}
	for _, rules := range [][]Rule{a, b} {
		if _, err := NormHash(rules); !errors.Is(err, canon.ErrInvalidUTF8) {
			t.Fatalf("expected ErrInvalidUTF8, got %v", err)
		}
		if _, err := Genesis(rules); err == nil {
			t.Fatal("genesis must refuse a law that cannot be hashed faithfully")
		}
	}
}

func TestNormHashStableAcrossJSONRoundTrip(t *testing.T) {
	rules := sampleRules()
	h1, err := NormHash(rules)
	if err != nil {
		t.Fatalf("NormHash: %v", err)
	}

	raw, err := json.Marshal(rules)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []Rule
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	h2, err := NormHash(decoded)
	if err != nil {
		t.Fatalf("NormHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("norm hash changed across round trip: %s vs %s", h1, h2)
	}
}

func TestConditionEqualIgnoresEmptyArgs(t *testing.T) {
	var decoded Condition
	if err := json.Unmarshal([]byte(`{"op":"NOT","args":[{"op":"TRUE","args":[]}]}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(Not(True())) {
		t.Fatal("decoded and built conditions should be equal")
	}
}

func TestGenesisAndDeriveChainLedgerRoot(t *testing.T) {
	g, err := Genesis(sampleRules())
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	if g.Rev != 0 || g.LastPatchHash != g.NormHash {
		t.Fatalf("unexpected genesis: rev=%d", g.Rev)
	}
	if g.LedgerRoot != NextLedgerRoot(canon.Digest{}, g.NormHash) {
		t.Fatal("genesis ledger root mismatch")
	}

	patchHash := canon.HashBytes([]byte("patch-1"))
	next, err := Derive(g, g.Rules[:1], patchHash, canon.Digest{})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if next.Rev != 1 {
		t.Fatalf("expected rev 1, got %d", next.Rev)
	}
	if next.LedgerRoot != canon.ChainDigests(g.LedgerRoot, patchHash) {
		t.Fatal("ledger root must chain the previous root and the patch hash")
	}
	if !next.RepairEpoch.IsZero() {
		t.Fatal("ordinary derive must not create a repair epoch")
	}
}

func TestDeriveDoesNotAliasRules(t *testing.T) {
	g, _ := Genesis(sampleRules())
	next, _ := Derive(g, g.Rules, canon.HashBytes([]byte("p")), canon.Digest{})
	next.Rules[0].Priority = 99
	*next.Rules[0].ExpiresEpisode = 7
	if g.Rules[0].Priority != 10 || *g.Rules[0].ExpiresEpisode != 1 {
		t.Fatal("derived revision shares memory with its parent")
	}
}

func TestRuleActiveAt(t *testing.T) {
	r := sampleRules()[0]
	if !r.ActiveAt(1) {
		t.Fatal("rule should be active at its expiry episode")
	}
	if r.ActiveAt(2) {
		t.Fatal("rule should have expired after its expiry episode")
	}
	if !sampleRules()[1].ActiveAt(1000) {
		t.Fatal("rules without expiry never expire")
	}
}

func TestErrorCodes(t *testing.T) {
	err := Referencef("priority tie between %s and %s", "R1", "R2")
	if !errors.Is(err, ErrReference) {
		t.Fatal("expected ErrReference")
	}
	if Code(err) != "REFERENCE_ERROR" {
		t.Fatalf("unexpected code %q", Code(err))
	}
	if Code(errors.New("plain")) != "" {
		t.Fatal("plain errors carry no code")
	}
}

func TestAsConditionShapes(t *testing.T) {
	if _, ok := AsCondition(map[string]any{"op": "TRUE"}); !ok {
		t.Fatal("map with op should decode")
	}
	if _, ok := AsCondition(map[string]any{"args": []any{}}); ok {
		t.Fatal("map without op is not a condition")
	}
	if _, ok := AsCondition("zone"); ok {
		t.Fatal("literal is not a condition")
	}
}
