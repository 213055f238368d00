package canon

import (
	"errors"
	"testing"
)

func TestCanonicalizeSortsKeysWithoutWhitespace(t *testing.T) {
	got, err := Canonicalize(map[string]any{
		"b": 2,
		"a": map[string]any{"y": []any{3, 1, 2}, "x": "<&>"},
	})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":{"x":"<&>","y":[3,1,2]},"b":2}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestContentHashIgnoresInsertionOrder(t *testing.T) {
	a := map[string]any{}
	a["op"] = "AND"
	a["args"] = []any{"x", 1}
	b := map[string]any{}
	b["args"] = []any{"x", 1}
	b["op"] = "AND"

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	hb, err := ContentHash(b)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected identical digests, got %s vs %s", ha, hb)
	}
}

func TestContentHashStructAndMapAgree(t *testing.T) {
	type pair struct {
		Op   string `json:"op"`
		Args []any  `json:"args"`
	}
	hs := MustContentHash(pair{Op: "EQ", Args: []any{"zone", "B"}})
	hm := MustContentHash(map[string]any{"args": []any{"zone", "B"}, "op": "EQ"})
	if hs != hm {
		t.Fatal("struct and map with the same content should hash equally")
	}
}

func TestCanonicalizeNormalizesNumbers(t *testing.T) {
	got, err := Canonicalize([]any{1.0, 2.50, 10, 1e3})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(got) != `[1,2.5,10,1000]` {
		t.Fatalf("unexpected number form: %s", got)
	}
}

func TestArraysKeepDeclarationOrder(t *testing.T) {
	h1 := MustContentHash([]string{"a", "b"})
	h2 := MustContentHash([]string{"b", "a"})
	if h1 == h2 {
		t.Fatal("arrays must not be sorted")
	}
}

func TestDigestTextRoundTrip(t *testing.T) {
	d := HashBytes([]byte("law"))
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back Digest
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != d {
		t.Fatal("digest changed across text round trip")
	}
	if len(d.Short()) != ShortLen {
		t.Fatalf("expected short length %d, got %d", ShortLen, len(d.Short()))
	}

	var zero Digest
	text, _ = zero.MarshalText()
	if len(text) != 0 {
		t.Fatalf("zero digest should encode empty, got %q", text)
	}
}

func TestChainIsOrderSensitive(t *testing.T) {
	a := HashBytes([]byte("a"))
	b := HashBytes([]byte("b"))
	if ChainDigests(a, b) == ChainDigests(b, a) {
		t.Fatal("chain must depend on part order")
	}
	if Chain(a[:], b[:]) != ChainDigests(a, b) {
		t.Fatal("Chain and ChainDigests disagree")
	}
	if Chain(a[:], []byte("n1")) == Chain(a[:], []byte("n2")) {
		t.Fatal("chain must depend on the trailing nonce")
	}
}

func TestCanonicalizeRejectsInvalidUTF8(t *testing.T) {
	for _, v := range []any{
		map[string]any{"action_class": "OPEN\xff"},
		map[string]any{"OPEN\xfe": 1},
		[]any{"ok", "\xc3"},
	} {
		if _, err := Canonicalize(v); !errors.Is(err, ErrInvalidUTF8) {
			t.Errorf("Canonicalize(%q): expected ErrInvalidUTF8, got %v", v, err)
		}
	}
}

func TestCanonicalizeKeepsReplacementCharacterDistinct(t *testing.T) {
	// A genuine U+FFFD and the literal escape text are both valid input.
	for _, s := range []string{"OPEN\uFFFD", `OPEN\ufffd`, `a\\ufffd`} {
		if _, err := Canonicalize(map[string]any{"action_class": s}); err != nil {
			t.Errorf("Canonicalize(%q): %v", s, err)
		}
	}
	a := MustContentHash("OPEN\uFFFD")
	b := MustContentHash(`OPEN\ufffd`)
	if a == b {
		t.Fatal("replacement character and its escaped spelling must not collide")
	}
}
