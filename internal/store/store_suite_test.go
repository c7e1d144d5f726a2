package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// storeSuite exercises the batch semantics every backend must share.
// Backend test files embed it and set store in SetupSuite.
type storeSuite struct {
	suite.Suite
	store  Store
	ctx    context.Context
	prefix string
}

func (s *storeSuite) SetupTest() {
	s.ctx = context.Background()
	// Unique names per test keep shared containers isolated.
	s.prefix = "t" + uuid.NewString()[:8] + ":"
}

func (s *storeSuite) name(n string) string { return s.prefix + n }

func (s *storeSuite) exec(b *Batch) Results {
	res, err := s.store.Exec(s.ctx, b)
	s.Require().NoError(err)
	s.Require().Len(res, b.Len())
	return res
}

func (s *storeSuite) TestSequenceIsFIFO() {
	seq := s.name("q")

	b := NewBatch()
	for _, k := range []string{"a", "b", "c"} {
		b.Append(seq, Lit(k))
	}
	n := b.SeqLen(seq)
	res := s.exec(b)
	s.Equal(int64(3), res.At(n).Int)

	var got []string
	for i := 0; i < 4; i++ {
		p := NewBatch()
		r := p.PopHead(seq)
		reply := s.exec(p).At(r)
		if reply.Nil {
			break
		}
		got = append(got, reply.Str)
	}
	s.Equal([]string{"a", "b", "c"}, got)
}

func (s *storeSuite) TestRefSkipsWhenSourceIsNil() {
	seq, working, values := s.name("q"), s.name("qworking"), s.name("qvalues")

	b := NewBatch()
	pop := b.PopHead(seq)
	add := b.ScoreAdd(working, ResultOf(pop), 10)
	get := b.Get(values, ResultOf(pop))
	card := b.ScoreCard(working)
	res := s.exec(b)

	s.True(res.At(pop).Nil)
	s.True(res.At(add).Nil)
	s.True(res.At(get).Nil)
	s.Equal(int64(0), res.At(card).Int)
}

func (s *storeSuite) TestRefMovesPoppedMember() {
	seq, working, values := s.name("q"), s.name("qworking"), s.name("qvalues")

	enq := NewBatch()
	enq.Append(seq, Lit("k1"))
	enq.Set(values, Lit("k1"), "payload\x00bytes")
	s.exec(enq)

	b := NewBatch()
	pop := b.PopHead(seq)
	add := b.ScoreAdd(working, ResultOf(pop), 42)
	get := b.Get(values, ResultOf(pop))
	res := s.exec(b)

	s.Equal("k1", res.At(pop).Str)
	s.Equal(int64(1), res.At(add).Int)
	s.Equal("payload\x00bytes", res.At(get).Str)

	members, err := s.store.RangeByScore(s.ctx, working, 0, 42)
	s.Require().NoError(err)
	s.Equal([]string{"k1"}, members)
}

func (s *storeSuite) TestGuardRunsOnlyOnPositiveCount() {
	seq, working, values := s.name("q"), s.name("qworking"), s.name("qvalues")

	setup := NewBatch()
	setup.ScoreAdd(working, Lit("k"), 5)
	setup.Set(values, Lit("k"), "v")
	s.exec(setup)

	requeue := func() Results {
		b := NewBatch()
		rem := b.ScoreRemove(working, Lit("k"))
		b.When(rem, func(b *Batch) {
			b.Append(seq, Lit("k"))
		})
		return s.exec(b)
	}

	first := requeue()
	s.Equal(int64(1), first.At(0).Int)
	s.Equal(int64(1), first.At(1).Int)

	second := requeue()
	s.Equal(int64(0), second.At(0).Int)
	s.True(second.At(1).Nil)

	lb := NewBatch()
	l := lb.SeqLen(seq)
	s.Equal(int64(1), s.exec(lb).At(l).Int, "the member is appended exactly once")
}

func (s *storeSuite) TestNestedGuards() {
	working, values, seq := s.name("qworking"), s.name("qvalues"), s.name("q")

	setup := NewBatch()
	setup.ScoreAdd(working, Lit("k"), 1)
	s.exec(setup)

	b := NewBatch()
	rem := b.ScoreRemove(working, Lit("k"))
	var ex, app Ref
	b.When(rem, func(b *Batch) {
		ex = b.Exists(values, Lit("k"))
		b.When(ex, func(b *Batch) {
			app = b.Append(seq, Lit("k"))
		})
	})
	res := s.exec(b)

	s.Equal(int64(1), res.At(rem).Int)
	s.Equal(int64(0), res.At(ex).Int)
	s.True(res.At(app).Nil)
}

func (s *storeSuite) TestScoreRemoveAtMostRespectsBound() {
	working := s.name("qworking")

	setup := NewBatch()
	setup.ScoreAdd(working, Lit("old"), 100)
	setup.ScoreAdd(working, Lit("fresh"), 900)
	s.exec(setup)

	b := NewBatch()
	oldRem := b.ScoreRemoveAtMost(working, Lit("old"), 500)
	freshRem := b.ScoreRemoveAtMost(working, Lit("fresh"), 500)
	missing := b.ScoreRemoveAtMost(working, Lit("missing"), 500)
	res := s.exec(b)

	s.Equal(int64(1), res.At(oldRem).Int)
	s.Equal(int64(0), res.At(freshRem).Int)
	s.Equal(int64(0), res.At(missing).Int)

	left, err := s.store.RangeByScore(s.ctx, working, 0, 1000)
	s.Require().NoError(err)
	s.Equal([]string{"fresh"}, left)
}

func (s *storeSuite) TestScoreAddUpdatesExisting() {
	working := s.name("qworking")

	b := NewBatch()
	first := b.ScoreAdd(working, Lit("k"), 10)
	second := b.ScoreAdd(working, Lit("k"), 20)
	card := b.ScoreCard(working)
	res := s.exec(b)

	s.Equal(int64(1), res.At(first).Int)
	s.Equal(int64(0), res.At(second).Int)
	s.Equal(int64(1), res.At(card).Int)

	hit, err := s.store.RangeByScore(s.ctx, working, 15, 25)
	s.Require().NoError(err)
	s.Equal([]string{"k"}, hit)
}

func (s *storeSuite) TestRangeByScoreOrdersByScore() {
	working := s.name("qworking")

	b := NewBatch()
	b.ScoreAdd(working, Lit("c"), 30)
	b.ScoreAdd(working, Lit("a"), 10)
	b.ScoreAdd(working, Lit("b"), 20)
	b.ScoreAdd(working, Lit("z"), 99)
	s.exec(b)

	got, err := s.store.RangeByScore(s.ctx, working, 0, 30)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b", "c"}, got)

	none, err := s.store.RangeByScore(s.ctx, s.name("empty"), 0, 100)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *storeSuite) TestMapOperations() {
	values := s.name("qvalues")

	b := NewBatch()
	set1 := b.Set(values, Lit("k"), "v1")
	set2 := b.Set(values, Lit("k"), "v2")
	get := b.Get(values, Lit("k"))
	ex := b.Exists(values, Lit("k"))
	del := b.Delete(values, Lit("k"))
	del2 := b.Delete(values, Lit("k"))
	ex2 := b.Exists(values, Lit("k"))
	get2 := b.Get(values, Lit("k"))
	res := s.exec(b)

	s.Equal(int64(1), res.At(set1).Int)
	s.Equal(int64(0), res.At(set2).Int)
	s.Equal("v2", res.At(get).Str)
	s.Equal(int64(1), res.At(ex).Int)
	s.Equal(int64(1), res.At(del).Int)
	s.Equal(int64(0), res.At(del2).Int)
	s.Equal(int64(0), res.At(ex2).Int)
	s.True(res.At(get2).Nil)
}

func (s *storeSuite) TestConcurrentRemovalHasSingleWinner() {
	working, seq := s.name("qworking"), s.name("q")

	for trial := 0; trial < 20; trial++ {
		setup := NewBatch()
		setup.ScoreAdd(working, Lit("k"), 1)
		s.exec(setup)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			wins  = make([]int64, 2)
		)
		for i := range wins {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				b := NewBatch()
				rem := b.ScoreRemove(working, Lit("k"))
				b.When(rem, func(b *Batch) { b.Append(seq, Lit("k")) })
				res, err := s.store.Exec(s.ctx, b)
				if err == nil {
					wins[i] = res.At(rem).Int
				}
			}(i)
		}
		close(start)
		wg.Wait()

		s.Equal(int64(1), wins[0]+wins[1], "trial %d", trial)

		drain := NewBatch()
		p := drain.PopHead(seq)
		s.Equal("k", s.exec(drain).At(p).Str)
	}
}
