// Package epoch maintains the repair-epoch hash chain: an explicit
// append-only list of (parent, fingerprint, nonce) links extended only by
// repairs accepted under contradiction pressure.
package epoch

import (
	"fmt"
	"sync"

	"github.com/macterra/Axio-sub017/internal/canon"
)

// Link is one accepted repair's position in the chain.
type Link struct {
	Parent      canon.Digest `json:"parent"`
	Fingerprint canon.Digest `json:"fingerprint"`
	Nonce       []byte       `json:"nonce"`
	Epoch       canon.Digest `json:"epoch"`
	Regime      int          `json:"regime"`
	Rev         int          `json:"rev"`
}

// Extend computes H(parent ∥ fingerprint ∥ nonce).
func Extend(parent, fingerprint canon.Digest, nonce []byte) canon.Digest {
	return canon.Chain(parent[:], fingerprint[:], nonce)
}

// Parent returns the value the next link must extend: the live epoch if
// one exists, otherwise the fingerprint of the law being repaired.
func Parent(current, normHash canon.Digest) canon.Digest {
	if current.IsZero() {
		return normHash
	}
	return current
}

// #region chain

// Chain is the append-only link log. Safe for concurrent use.
type Chain struct {
	mu    sync.RWMutex
	links []Link
}

// NewChain returns a chain seeded with already-verified links.
func NewChain(links ...Link) *Chain {
	return &Chain{links: append([]Link(nil), links...)}
}

// Head returns the current epoch, or zero before the first repair.
func (c *Chain) Head() canon.Digest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.links) == 0 {
		return canon.Digest{}
	}
	return c.links[len(c.links)-1].Epoch
}

// Append adds a link after checking it extends the head and that its
// epoch is the chain function of its inputs.
func (c *Chain) Append(l Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(l); err != nil {
		return err
	}
	l.Nonce = append([]byte(nil), l.Nonce...)
	c.links = append(c.links, l)
	return nil
}

// Check reports whether Append would accept l, without appending it.
func (c *Chain) Check(l Link) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.check(l)
}

func (c *Chain) check(l Link) error {
	if len(c.links) > 0 {
		head := c.links[len(c.links)-1].Epoch
		if l.Parent != head {
			return fmt.Errorf("epoch link parent %s does not extend head %s", l.Parent.Short(), head.Short())
		}
	}
	if want := Extend(l.Parent, l.Fingerprint, l.Nonce); want != l.Epoch {
		return fmt.Errorf("epoch link %s does not match its inputs (%s)", l.Epoch.Short(), want.Short())
	}
	return nil
}

// Links returns a copy of the chain in order.
func (c *Chain) Links() []Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Link(nil), c.links...)
}

// Len returns the number of accepted repairs.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

// #endregion chain

// Verify recomputes every link and checks that each extends its
// predecessor. It does not know the genesis law, so the first link's
// parent is taken as given.
func Verify(links []Link) error {
	for i, l := range links {
		if i > 0 && l.Parent != links[i-1].Epoch {
			return fmt.Errorf("link %d: parent does not match previous epoch", i)
		}
		if Extend(l.Parent, l.Fingerprint, l.Nonce) != l.Epoch {
			return fmt.Errorf("link %d: epoch does not match its inputs", i)
		}
	}
	return nil
}
