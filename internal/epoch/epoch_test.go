package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macterra/Axio-sub017/internal/canon"
)

func d(s string) canon.Digest { return canon.HashBytes([]byte(s)) }

func build(t *testing.T, law canon.Digest, fps []canon.Digest, nonces [][]byte) *Chain {
	t.Helper()
	c := NewChain()
	for i := range fps {
		parent := Parent(c.Head(), law)
		l := Link{Parent: parent, Fingerprint: fps[i], Nonce: nonces[i], Regime: i, Rev: i + 1}
		l.Epoch = Extend(parent, fps[i], nonces[i])
		require.NoError(t, c.Append(l))
	}
	return c
}

func TestExtendMatchesDefinition(t *testing.T) {
	e1 := d("epoch-1")
	fp := d("repair-2")
	nonce := []byte("nonce-2")
	want := canon.Chain(e1[:], fp[:], nonce)
	assert.Equal(t, want, Extend(e1, fp, nonce))
}

func TestChainIsReproducible(t *testing.T) {
	law := d("law")
	fps := []canon.Digest{d("r1"), d("r2")}
	nonces := [][]byte{[]byte("n1"), []byte("n2")}

	a := build(t, law, fps, nonces)
	b := build(t, law, fps, nonces)
	assert.Equal(t, a.Head(), b.Head())
	require.NoError(t, Verify(a.Links()))

	first := a.Links()[0]
	assert.Equal(t, law, first.Parent, "first link extends the repaired law")
	assert.Equal(t, Extend(first.Epoch, fps[1], nonces[1]), a.Head())
}

func TestAnySingleChangeChangesHead(t *testing.T) {
	law := d("law")
	fps := []canon.Digest{d("r1"), d("r2")}
	nonces := [][]byte{[]byte("n1"), []byte("n2")}
	base := build(t, law, fps, nonces).Head()

	assert.NotEqual(t, base, build(t, d("other-law"), fps, nonces).Head())
	assert.NotEqual(t, base, build(t, law, []canon.Digest{d("rX"), fps[1]}, nonces).Head())
	assert.NotEqual(t, base, build(t, law, fps, [][]byte{nonces[0], []byte("nX")}).Head())
}

func TestAppendRejectsBrokenLinks(t *testing.T) {
	c := build(t, d("law"), []canon.Digest{d("r1")}, [][]byte{[]byte("n1")})

	stale := Link{Parent: d("law"), Fingerprint: d("r2"), Nonce: []byte("n2")}
	stale.Epoch = Extend(stale.Parent, stale.Fingerprint, stale.Nonce)
	assert.Error(t, c.Append(stale), "link must extend the head")

	forged := Link{Parent: c.Head(), Fingerprint: d("r2"), Nonce: []byte("n2"), Epoch: d("forged")}
	assert.Error(t, c.Append(forged))
	assert.Equal(t, 1, c.Len())
}

func TestVerifyDetectsReordering(t *testing.T) {
	links := build(t, d("law"), []canon.Digest{d("r1"), d("r2")}, [][]byte{[]byte("n1"), []byte("n2")}).Links()
	links[0], links[1] = links[1], links[0]
	assert.Error(t, Verify(links))
}

func TestCheckLeavesChainUntouched(t *testing.T) {
	c := build(t, d("law"), []canon.Digest{d("r1")}, [][]byte{[]byte("n1")})
	head := c.Head()

	good := Link{Parent: head, Fingerprint: d("r2"), Nonce: []byte("n2"), Regime: 1, Rev: 2}
	good.Epoch = Extend(head, good.Fingerprint, good.Nonce)
	require.NoError(t, c.Check(good))
	assert.Equal(t, 1, c.Len())

	stale := good
	stale.Parent = d("law")
	stale.Epoch = Extend(stale.Parent, stale.Fingerprint, stale.Nonce)
	assert.Error(t, c.Check(stale))

	forged := good
	forged.Epoch = d("forged")
	assert.Error(t, c.Check(forged))
	assert.Equal(t, head, c.Head())
}
