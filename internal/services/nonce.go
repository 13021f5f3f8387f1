package services

import (
	"sort"
)

// ReplayGuard remembers every nonce each caller has used. Sets only grow.
type ReplayGuard struct {
	seen map[string]map[uint64]struct{}
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]map[uint64]struct{})}
}

// Check records nonce for caller, or fails with ErrReplayedNonce if the
// caller has used it before.
func (g *ReplayGuard) Check(op, caller string, nonce uint64) error {
	used, ok := g.seen[caller]
	if !ok {
		g.seen[caller] = map[uint64]struct{}{nonce: {}}
		return nil
	}
	if _, dup := used[nonce]; dup {
		return newError(op, ErrReplayedNonce, "caller %s nonce %d", caller, nonce)
	}
	used[nonce] = struct{}{}
	return nil
}

// Seen reports whether caller has used nonce.
func (g *ReplayGuard) Seen(caller string, nonce uint64) bool {
	_, ok := g.seen[caller][nonce]
	return ok
}

func (g *ReplayGuard) snapshot() map[string][]uint64 {
	out := make(map[string][]uint64, len(g.seen))
	for caller, used := range g.seen {
		list := make([]uint64, 0, len(used))
		for n := range used {
			list = append(list, n)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[caller] = list
	}
	return out
}

func (g *ReplayGuard) restore(state map[string][]uint64) {
	g.seen = make(map[string]map[uint64]struct{}, len(state))
	for caller, list := range state {
		used := make(map[uint64]struct{}, len(list))
		for _, n := range list {
			used[n] = struct{}{}
		}
		g.seen[caller] = used
	}
}
