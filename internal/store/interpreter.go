package store

import (
	"context"
	"fmt"
)

// primitives is the per-transaction view a backend hands to run. Every
// method executes inside the transaction that run is driving.
type primitives interface {
	append(ctx context.Context, seq, member string) error
	popHead(ctx context.Context, seq string) (string, bool, error)
	scoreAdd(ctx context.Context, assoc, member string, score int64) (bool, error)
	// scoreRemove removes member; a non-nil max bounds the score.
	scoreRemove(ctx context.Context, assoc, member string, max *int64) (int64, error)
	set(ctx context.Context, m, member, value string) (bool, error)
	get(ctx context.Context, m, member string) (string, bool, error)
	del(ctx context.Context, m, member string) (int64, error)
	exists(ctx context.Context, m, member string) (bool, error)
	seqLen(ctx context.Context, seq string) (int64, error)
	scoreCard(ctx context.Context, assoc string) (int64, error)
}

// run interprets b against p. Backends without a native scripting facility
// call it inside their own transaction; the first error aborts the batch and
// the caller rolls back.
func run(ctx context.Context, b *Batch, p primitives) (Results, error) {
	res := make(Results, len(b.ops))
	for i, op := range b.ops {
		res[i] = NilReply
		if op.When != NoRef && !res[op.When].Truthy() {
			continue
		}
		member := op.Member.lit
		if op.Member.fromRef {
			r := res[op.Member.ref]
			if r.Nil {
				continue
			}
			member = r.member()
		}
		r, err := apply(ctx, p, op, member)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s %s): %w", i, op.Kind, op.Name, err)
		}
		res[i] = r
	}
	return res, nil
}

func apply(ctx context.Context, p primitives, op Op, member string) (Reply, error) {
	switch op.Kind {
	case KindAppend:
		if err := p.append(ctx, op.Name, member); err != nil {
			return NilReply, err
		}
		return IntReply(1), nil
	case KindPopHead:
		v, ok, err := p.popHead(ctx, op.Name)
		return strOrNil(v, ok, err)
	case KindScoreAdd:
		added, err := p.scoreAdd(ctx, op.Name, member, op.Num)
		return boolReply(added, err)
	case KindScoreRemove:
		n, err := p.scoreRemove(ctx, op.Name, member, nil)
		return IntReply(n), err
	case KindScoreRemoveAtMost:
		max := op.Num
		n, err := p.scoreRemove(ctx, op.Name, member, &max)
		return IntReply(n), err
	case KindSet:
		added, err := p.set(ctx, op.Name, member, op.Value)
		return boolReply(added, err)
	case KindGet:
		v, ok, err := p.get(ctx, op.Name, member)
		return strOrNil(v, ok, err)
	case KindDelete:
		n, err := p.del(ctx, op.Name, member)
		return IntReply(n), err
	case KindExists:
		ok, err := p.exists(ctx, op.Name, member)
		return boolReply(ok, err)
	case KindSeqLen:
		n, err := p.seqLen(ctx, op.Name)
		return IntReply(n), err
	case KindScoreCard:
		n, err := p.scoreCard(ctx, op.Name)
		return IntReply(n), err
	default:
		return NilReply, fmt.Errorf("unknown op kind %s", op.Kind)
	}
}

func strOrNil(v string, ok bool, err error) (Reply, error) {
	if err != nil || !ok {
		return NilReply, err
	}
	return StrReply(v), nil
}

func boolReply(b bool, err error) (Reply, error) {
	if b {
		return IntReply(1), err
	}
	return IntReply(0), err
}
