// Package ledger is the normative state ledger: the append-only history of
// revisions and the only mutable shared resource in the kernel. Readers
// take the current revision without locking; writers serialize.
package ledger

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/macterra/Axio-sub017/internal/canon"
	"github.com/macterra/Axio-sub017/internal/epoch"
	"github.com/macterra/Axio-sub017/internal/gate"
	"github.com/macterra/Axio-sub017/internal/norm"
	"github.com/macterra/Axio-sub017/internal/patch"
	"github.com/macterra/Axio-sub017/internal/schema"
	"github.com/macterra/Axio-sub017/internal/verify"
)

// #region ledger
// Ledger holds the revision history and the repair-epoch chain.
type Ledger struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[norm.NormState]
	history []norm.NormState
	chain   *epoch.Chain

	grammar schema.Grammar
	store   *Store
	logger  *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore mirrors every commit to s.
func WithStore(s *Store) Option { return func(l *Ledger) { l.store = s } }

// WithGrammar sets the grammar ordinary patches are validated against.
func WithGrammar(g schema.Grammar) Option { return func(l *Ledger) { l.grammar = g } }

// WithLogger sets the logger. The default discards.
func WithLogger(z *zap.Logger) Option { return func(l *Ledger) { l.logger = z } }

func newLedger(opts []Option) *Ledger {
	l := &Ledger{chain: epoch.NewChain(), grammar: schema.Core(), logger: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// New starts a ledger at genesis. With a store, genesis is persisted.
func New(rules []norm.Rule, opts ...Option) (*Ledger, error) {
	l := newLedger(opts)
	if _, err := l.grammar.RuleSet(rules); err != nil {
		return nil, err
	}
	g, err := norm.Genesis(rules)
	if err != nil {
		return nil, err
	}
	if l.store != nil {
		if err := l.store.Commit(g, nil); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
	}
	l.history = []norm.NormState{g}
	l.current.Store(&l.history[0])
	l.logger.Info("ledger initialized",
		zap.String("norm_hash", g.NormHash.Short()),
		zap.Int("rules", len(g.Rules)),
	)
	return l, nil
}

// Open rehydrates a ledger from store and re-verifies both hash chains
// before serving it.
func Open(store *Store, opts ...Option) (*Ledger, error) {
	l := newLedger(append(opts, WithStore(store)))
	revs, err := store.Revisions()
	if err != nil {
		return nil, err
	}
	links, err := store.Links()
	if err != nil {
		return nil, err
	}
	if report := verify.History(revs, links); !report.Passed {
		return nil, fmt.Errorf("open ledger: %s", report.Reason)
	}
	active, err := store.Active()
	if err != nil {
		return nil, err
	}
	if active != revs[len(revs)-1].Rev {
		return nil, fmt.Errorf("open ledger: active rev %d is not the head rev %d", active, revs[len(revs)-1].Rev)
	}
	l.history = revs
	l.chain = epoch.NewChain(links...)
	l.current.Store(&l.history[len(l.history)-1])
	return l, nil
}
// #endregion ledger

// #region readers
// Current returns the live revision. It never blocks.
func (l *Ledger) Current() norm.NormState {
	return clone(*l.current.Load())
}

// History returns a fresh copy of every revision, oldest first. Each call
// restarts from genesis.
func (l *Ledger) History() []norm.NormState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]norm.NormState, len(l.history))
	for i, s := range l.history {
		out[i] = clone(s)
	}
	return out
}

// Since yields revisions from rev onward in order, over a snapshot taken
// when iteration starts.
func (l *Ledger) Since(rev int) iter.Seq[norm.NormState] {
	return func(yield func(norm.NormState) bool) {
		for _, s := range l.History() {
			if s.Rev < rev {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Revision returns one revision by number.
func (l *Ledger) Revision(rev int) (norm.NormState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev < 0 || rev >= len(l.history) {
		return norm.NormState{}, false
	}
	return clone(l.history[rev]), true
}

// clone detaches a revision's rule list from ledger storage.
func clone(s norm.NormState) norm.NormState {
	s.Rules = norm.CloneRules(s.Rules)
	return s
}

// Links returns the repair-epoch chain.
func (l *Ledger) Links() []epoch.Link {
	return l.chain.Links()
}
// #endregion readers

// #region apply
// Apply commits an ordinary patch on top of parentRev. The ledger_root
// advances; the repair epoch does not. A patch that leaves the rule list
// unchanged commits nothing and returns the live revision.
func (l *Ledger) Apply(parentRev int, ops []norm.NormPatch) (norm.NormState, patch.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.current.Load()
	if cur.Rev != parentRev {
		return norm.NormState{}, patch.Result{}, norm.Newf(norm.ErrStaleRevision, "patch built on rev %d, live rev is %d", parentRev, cur.Rev)
	}
	next, res, err := patch.Next(cur, ops, l.grammar, canon.Digest{})
	if err != nil {
		return norm.NormState{}, patch.Result{}, err
	}
	if res.Decision.Action != "commit" {
		return cur, res, nil
	}
	if err := l.commit(next, nil); err != nil {
		return norm.NormState{}, patch.Result{}, err
	}
	l.logger.Info("patch committed",
		zap.Int("rev", next.Rev),
		zap.Strings("touched", res.Touched),
		zap.String("ledger_root", next.LedgerRoot.Short()),
	)
	return next, res, nil
}

// CommitRepair commits a revision the repair validator accepted. The
// decision must have been computed against the live revision.
func (l *Ledger) CommitRepair(d gate.Decision) (norm.NormState, error) {
	if d.Action != "commit" || d.Acceptance == nil {
		return norm.NormState{}, fmt.Errorf("commit repair: decision is %q", d.Action)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.current.Load()
	next := d.State
	if next.Rev != cur.Rev+1 {
		return norm.NormState{}, norm.Newf(norm.ErrStaleRevision, "repair built on rev %d, live rev is %d", next.Rev-1, cur.Rev)
	}
	link := d.Acceptance.Link
	if link.Parent != epoch.Parent(cur.RepairEpoch, cur.NormHash) {
		return norm.NormState{}, norm.Newf(norm.ErrStaleRevision, "repair extends epoch %s, live parent is %s",
			link.Parent.Short(), epoch.Parent(cur.RepairEpoch, cur.NormHash).Short())
	}
	if next.LedgerRoot != norm.NextLedgerRoot(cur.LedgerRoot, next.LastPatchHash) || next.RepairEpoch != link.Epoch {
		return norm.NormState{}, fmt.Errorf("commit repair: revision %d does not chain from rev %d", next.Rev, cur.Rev)
	}
	if err := l.commit(next, &link); err != nil {
		return norm.NormState{}, err
	}
	l.logger.Info("repair committed",
		zap.Int("rev", next.Rev),
		zap.Int("regime", link.Regime),
		zap.String("repair_epoch", next.RepairEpoch.Short()),
	)
	return next, nil
}

// commit persists then publishes. The link is checked against the chain
// head before anything reaches the store. Callers hold mu.
func (l *Ledger) commit(next norm.NormState, link *epoch.Link) error {
	if link != nil {
		if err := l.chain.Check(*link); err != nil {
			return fmt.Errorf("extend epoch chain: %w", err)
		}
	}
	if l.store != nil {
		if err := l.store.Commit(next, link); err != nil {
			return fmt.Errorf("persist rev %d: %w", next.Rev, err)
		}
	}
	if link != nil {
		if err := l.chain.Append(*link); err != nil {
			return fmt.Errorf("extend epoch chain: %w", err)
		}
	}
	l.history = append(l.history, next)
	l.current.Store(&next)
	return nil
}
// #endregion apply
