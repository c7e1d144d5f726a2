package store

import (
	"fmt"
	"strconv"
)

// Kind identifies a primitive operation.
type Kind uint8

const (
	KindAppend Kind = iota + 1
	KindPopHead
	KindScoreAdd
	KindScoreRemove
	KindScoreRemoveAtMost
	KindSet
	KindGet
	KindDelete
	KindExists
	KindSeqLen
	KindScoreCard
)

var kindNames = map[Kind]string{
	KindAppend:            "append",
	KindPopHead:           "pop",
	KindScoreAdd:          "zadd",
	KindScoreRemove:       "zrem",
	KindScoreRemoveAtMost: "zremle",
	KindSet:               "hset",
	KindGet:               "hget",
	KindDelete:            "hdel",
	KindExists:            "hexists",
	KindSeqLen:            "llen",
	KindScoreCard:         "zcard",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Ref points at the result of an op added earlier to the same Batch.
type Ref int

// NoRef is the zero guard: the op always runs.
const NoRef Ref = -1

// Arg is an op member: either a literal or the result of an earlier op.
type Arg struct {
	lit     string
	ref     Ref
	fromRef bool
}

// Lit returns a literal member.
func Lit(s string) Arg { return Arg{lit: s, ref: NoRef} }

// ResultOf returns a member taken from the result of the op r. An op whose
// member resolves to a nil result is skipped and itself yields nil.
func ResultOf(r Ref) Arg { return Arg{ref: r, fromRef: true} }


// Ref returns the referenced op, or NoRef for a literal.
func (a Arg) Ref() Ref {
	if !a.fromRef {
		return NoRef
	}
	return a.ref
}

// Literal returns the literal member; empty for a reference.
func (a Arg) Literal() string { return a.lit }

// Op is a single primitive call inside a Batch.
type Op struct {
	Kind Kind
	// Name is the sequence, association or map the op targets.
	Name   string
	Member Arg
	// Value is the payload written by KindSet.
	Value string
	// Num is the score of KindScoreAdd or the upper bound of
	// KindScoreRemoveAtMost.
	Num int64
	// When guards the op: it runs only when the referenced result is
	// truthy. NoRef means unguarded.
	When Ref
}

// Batch is an ordered list of ops executed atomically by Store.Exec.
//
// Ops that depend on earlier results (through ResultOf or When) make a batch
// dynamic; backends may run static batches on a cheaper path.
type Batch struct {
	ops   []Op
	guard Ref
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{guard: NoRef}
}

// Ops returns the ops in execution order.
func (b *Batch) Ops() []Op { return b.ops }

// Len returns the number of ops.
func (b *Batch) Len() int { return len(b.ops) }

// Static reports whether no op depends on the result of another.
func (b *Batch) Static() bool {
	for _, op := range b.ops {
		if op.When != NoRef || op.Member.fromRef || op.Kind == KindScoreRemoveAtMost {
			return false
		}
	}
	return true
}

// Keys returns the distinct structure names touched by the batch in order of
// first use.
func (b *Batch) Keys() []string {
	seen := make(map[string]struct{}, len(b.ops))
	keys := make([]string, 0, len(b.ops))
	for _, op := range b.ops {
		if _, ok := seen[op.Name]; ok {
			continue
		}
		seen[op.Name] = struct{}{}
		keys = append(keys, op.Name)
	}
	return keys
}

func (b *Batch) add(op Op) Ref {
	if op.Member.fromRef {
		b.checkRef(op.Member.ref)
	}
	op.When = b.guard
	b.ops = append(b.ops, op)
	return Ref(len(b.ops) - 1)
}

func (b *Batch) checkRef(r Ref) {
	if r < 0 || int(r) >= len(b.ops) {
		panic(fmt.Sprintf("store: ref %d does not point at an earlier op", r))
	}
}

// Append adds member at the tail of seq.
func (b *Batch) Append(seq string, member Arg) Ref {
	return b.add(Op{Kind: KindAppend, Name: seq, Member: member})
}

// PopHead removes and returns the member at the head of seq, or nil when
// seq is empty.
func (b *Batch) PopHead(seq string) Ref {
	return b.add(Op{Kind: KindPopHead, Name: seq})
}

// ScoreAdd sets the score of member in assoc. It yields 1 when member was
// new, 0 when its score was updated.
func (b *Batch) ScoreAdd(assoc string, member Arg, score int64) Ref {
	return b.add(Op{Kind: KindScoreAdd, Name: assoc, Member: member, Num: score})
}

// ScoreRemove removes member from assoc and yields the number removed.
func (b *Batch) ScoreRemove(assoc string, member Arg) Ref {
	return b.add(Op{Kind: KindScoreRemove, Name: assoc, Member: member})
}

// ScoreRemoveAtMost removes member from assoc only if its score is <= max,
// and yields the number removed.
func (b *Batch) ScoreRemoveAtMost(assoc string, member Arg, max int64) Ref {
	return b.add(Op{Kind: KindScoreRemoveAtMost, Name: assoc, Member: member, Num: max})
}

// Set stores value under member in map m. It yields 1 when member was new.
func (b *Batch) Set(m string, member Arg, value string) Ref {
	return b.add(Op{Kind: KindSet, Name: m, Member: member, Value: value})
}

// Get yields the value stored under member in map m, or nil.
func (b *Batch) Get(m string, member Arg) Ref {
	return b.add(Op{Kind: KindGet, Name: m, Member: member})
}

// Delete removes member from map m and yields the number removed.
func (b *Batch) Delete(m string, member Arg) Ref {
	return b.add(Op{Kind: KindDelete, Name: m, Member: member})
}

// Exists yields 1 when member is present in map m, 0 otherwise.
func (b *Batch) Exists(m string, member Arg) Ref {
	return b.add(Op{Kind: KindExists, Name: m, Member: member})
}

// SeqLen yields the length of seq.
func (b *Batch) SeqLen(seq string) Ref {
	return b.add(Op{Kind: KindSeqLen, Name: seq})
}

// ScoreCard yields the number of members of assoc.
func (b *Batch) ScoreCard(assoc string) Ref {
	return b.add(Op{Kind: KindScoreCard, Name: assoc})
}

// When adds the ops created by fn guarded by cond: they run only when cond
// yielded a non-nil string or a count greater than zero. Guards nest.
func (b *Batch) When(cond Ref, fn func(*Batch)) {
	b.checkRef(cond)
	prev := b.guard
	b.guard = cond
	defer func() { b.guard = prev }()
	fn(b)
}

// Reply is the result of one op.
type Reply struct {
	// Nil is set for skipped ops and for missing values.
	Nil bool
	Str string
	Int int64
	num bool
}

// NilReply is the result of a skipped op or a missing value.
var NilReply = Reply{Nil: true}

// StrReply returns a string result.
func StrReply(s string) Reply { return Reply{Str: s} }

// IntReply returns a count result.
func IntReply(n int64) Reply { return Reply{Int: n, num: true} }


// Truthy reports whether a guard on this reply lets its ops run.
func (r Reply) Truthy() bool {
	if r.Nil {
		return false
	}
	if r.num {
		return r.Int > 0
	}
	return true
}

// member renders the reply as an op member.
func (r Reply) member() string {
	if r.num {
		return strconv.FormatInt(r.Int, 10)
	}
	return r.Str
}

// Results holds one Reply per op of an executed Batch.
type Results []Reply

// At returns the reply of the op r. Out of range refs yield NilReply.
func (rs Results) At(r Ref) Reply {
	if r < 0 || int(r) >= len(rs) {
		return NilReply
	}
	return rs[r]
}
