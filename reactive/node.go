package reactive

import "sync"

// node is the primitive of the dependency graph underlying Resource and
// Rerunner. Invalidation flows forward along out-edges: invalidating a node
// invalidates everything added to its out set. Release flows backward: a
// node only finishes releasing once every node it was pointed at via addOut
// has itself released, so a leaf can be released long after the node that
// depends on it was constructed.
type node struct {
	mu sync.Mutex

	invalidated     bool
	afterInvalidate func()
	out             map[*node]struct{}

	refs         int
	released     bool
	afterRelease func()
	onRelease    []func()
}

// addOut records that n depends on the release of out: out must release
// before n is considered released, and invalidating n also invalidates out.
func (n *node) addOut(out *node) {
	n.mu.Lock()
	alreadyInvalidated := n.invalidated
	if n.out == nil {
		n.out = make(map[*node]struct{})
	}
	n.out[out] = struct{}{}
	n.refs++
	n.mu.Unlock()

	if alreadyInvalidated {
		out.invalidate()
	}
	out.handleRelease(n.release)
}

// invalidate marks n invalidated, runs its afterInvalidate callback once,
// and propagates invalidation to every node in its out set.
func (n *node) invalidate() {
	n.mu.Lock()
	if n.invalidated {
		n.mu.Unlock()
		return
	}
	n.invalidated = true
	cb := n.afterInvalidate
	outs := make([]*node, 0, len(n.out))
	for o := range n.out {
		outs = append(outs, o)
	}
	n.mu.Unlock()

	if cb != nil {
		cb()
	}
	for _, o := range outs {
		o.invalidate()
	}
}

// strobe invalidates everything currently depending on n without marking n
// itself permanently invalidated, so a future computation can still depend
// on it afresh. Used by Resource.Strobe for resources that signal discrete
// events rather than a single state change.
func (n *node) strobe() {
	n.mu.Lock()
	outs := make([]*node, 0, len(n.out))
	for o := range n.out {
		outs = append(outs, o)
	}
	n.out = make(map[*node]struct{})
	n.mu.Unlock()

	for _, o := range outs {
		o.invalidate()
	}
}

// Invalidated reports whether n has been invalidated.
func (n *node) Invalidated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.invalidated
}

// handleInvalidate runs f the moment n becomes invalidated, or immediately
// if n is already invalidated.
func (n *node) handleInvalidate(f func()) {
	n.mu.Lock()
	if n.invalidated {
		n.mu.Unlock()
		f()
		return
	}
	prev := n.afterInvalidate
	n.afterInvalidate = func() {
		if prev != nil {
			prev()
		}
		f()
	}
	n.mu.Unlock()
}

// handleRelease runs f the moment n finishes releasing, or immediately if
// n has already released.
func (n *node) handleRelease(f func()) {
	n.mu.Lock()
	if n.released {
		n.mu.Unlock()
		f()
		return
	}
	n.onRelease = append(n.onRelease, f)
	n.mu.Unlock()
}

// release drops one pending reference. A node with no out-edges releases
// on its first call; a node with out-edges only finishes once each of them
// has released in turn.
func (n *node) release() {
	n.mu.Lock()
	if n.released {
		n.mu.Unlock()
		return
	}
	n.refs--
	if n.refs > 0 {
		n.mu.Unlock()
		return
	}
	n.released = true
	cb := n.afterRelease
	subs := n.onRelease
	n.onRelease = nil
	n.mu.Unlock()

	if cb != nil {
		cb()
	}
	for _, s := range subs {
		s()
	}
}
