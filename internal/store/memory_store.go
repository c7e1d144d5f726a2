package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryStore is a process-local Store. All structures live in maps guarded
// by one mutex, which makes every batch trivially atomic.
//
// It is intended for tests, examples and single-process deployments where
// producers and consumers share an address space.
type MemoryStore struct {
	mu     sync.Mutex
	seqs   map[string][]string
	assocs map[string]map[string]int64
	maps   map[string]map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seqs:   make(map[string][]string),
		assocs: make(map[string]map[string]int64),
		maps:   make(map[string]map[string]string),
	}
}

func (s *MemoryStore) Exec(ctx context.Context, b *Batch) (Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("memory", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return run(ctx, b, memoryTx{s})
}

func (s *MemoryStore) RangeByScore(ctx context.Context, assoc string, min, max int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("memory", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		member string
		score  int64
	}
	var hits []scored
	for m, sc := range s.assocs[assoc] {
		if sc >= min && sc <= max {
			hits = append(hits, scored{m, sc})
		}
	}
	slices.SortFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(a.score, b.score); c != 0 {
			return c
		}
		return cmp.Compare(a.member, b.member)
	})
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.member
	}
	return out, nil
}

// memoryTx implements primitives on a locked MemoryStore. The in-memory
// primitives cannot fail, so a batch never stops halfway.
type memoryTx struct{ s *MemoryStore }

func (t memoryTx) append(_ context.Context, seq, member string) error {
	t.s.seqs[seq] = append(t.s.seqs[seq], member)
	return nil
}

func (t memoryTx) popHead(_ context.Context, seq string) (string, bool, error) {
	q := t.s.seqs[seq]
	if len(q) == 0 {
		return "", false, nil
	}
	head := q[0]
	if len(q) == 1 {
		delete(t.s.seqs, seq)
	} else {
		t.s.seqs[seq] = q[1:]
	}
	return head, true, nil
}

func (t memoryTx) scoreAdd(_ context.Context, assoc, member string, score int64) (bool, error) {
	a := t.s.assocs[assoc]
	if a == nil {
		a = make(map[string]int64)
		t.s.assocs[assoc] = a
	}
	_, existed := a[member]
	a[member] = score
	return !existed, nil
}

func (t memoryTx) scoreRemove(_ context.Context, assoc, member string, max *int64) (int64, error) {
	a := t.s.assocs[assoc]
	sc, ok := a[member]
	if !ok || (max != nil && sc > *max) {
		return 0, nil
	}
	delete(a, member)
	if len(a) == 0 {
		delete(t.s.assocs, assoc)
	}
	return 1, nil
}

func (t memoryTx) set(_ context.Context, m, member, value string) (bool, error) {
	mm := t.s.maps[m]
	if mm == nil {
		mm = make(map[string]string)
		t.s.maps[m] = mm
	}
	_, existed := mm[member]
	mm[member] = value
	return !existed, nil
}

func (t memoryTx) get(_ context.Context, m, member string) (string, bool, error) {
	v, ok := t.s.maps[m][member]
	return v, ok, nil
}

func (t memoryTx) del(_ context.Context, m, member string) (int64, error) {
	mm := t.s.maps[m]
	if _, ok := mm[member]; !ok {
		return 0, nil
	}
	delete(mm, member)
	if len(mm) == 0 {
		delete(t.s.maps, m)
	}
	return 1, nil
}

func (t memoryTx) exists(_ context.Context, m, member string) (bool, error) {
	_, ok := t.s.maps[m][member]
	return ok, nil
}

func (t memoryTx) seqLen(_ context.Context, seq string) (int64, error) {
	return int64(len(t.s.seqs[seq])), nil
}

func (t memoryTx) scoreCard(_ context.Context, assoc string) (int64, error) {
	return int64(len(t.s.assocs[assoc])), nil
}
