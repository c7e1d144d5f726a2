package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis.
//
// Structures map one to one onto Redis types, so a queue named N occupies
// exactly these keys:
//
//	N          => LIST, LPUSH appends at the tail, RPOP pops the head
//	Nworking   => ZSET, member to checkout time in milliseconds
//	Nvalues    => HASH, member to payload
//
// Static batches run inside MULTI/EXEC. Batches whose ops depend on earlier
// results run as a single invocation of a batch-interpreter Lua script, which
// Redis executes without interleaving other clients.
//
// Neither form rolls back: a command failing halfway keeps the writes before
// it. The only runtime failure the ops can hit is WRONGTYPE, from a key of
// the layout holding a foreign type, so the script checks every key's type
// before its first write and fails the batch untouched. MULTI/EXEC has no
// such check: a failed static batch returns the error with its other
// commands applied.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Each op is passed as six ARGV fields:
//
//	kind, KEYS index, ref (0 for a literal), literal member, value or number, guard (0 for none)
//
// Indexes are 1-based. Skipped ops and nil results are stored as false, and a
// guard lets its op run unless the referenced result is false or 0.
var redisBatchScript = redis.NewScript(`
local types = {
	append = 'list', pop = 'list', llen = 'list',
	zadd = 'zset', zrem = 'zset', zremle = 'zset', zcard = 'zset',
	hset = 'hash', hget = 'hash', hdel = 'hash', hexists = 'hash',
}
local n = #ARGV / 6
for i = 1, n do
	local kind = ARGV[(i - 1) * 6 + 1]
	local key = KEYS[tonumber(ARGV[(i - 1) * 6 + 2])]
	local want = types[kind]
	if want == nil then
		return redis.error_reply('unknown op ' .. kind)
	end
	local have = redis.call('TYPE', key)['ok']
	if have ~= 'none' and have ~= want then
		return redis.error_reply('WRONGTYPE ' .. key .. ' holds a ' .. have .. ', batch needs a ' .. want)
	end
end

local results = {}
for i = 1, n do
	local base = (i - 1) * 6
	local kind = ARGV[base + 1]
	local key = KEYS[tonumber(ARGV[base + 2])]
	local ref = tonumber(ARGV[base + 3])
	local member = ARGV[base + 4]
	local arg = ARGV[base + 5]
	local when = tonumber(ARGV[base + 6])
	local res = false
	local run = true

	if when > 0 then
		local c = results[when]
		if c == false or c == 0 then
			run = false
		end
	end
	if run and ref > 0 then
		member = results[ref]
		if member == false then
			run = false
		end
	end

	if run then
		if kind == 'append' then
			redis.call('LPUSH', key, member)
			res = 1
		elseif kind == 'pop' then
			res = redis.call('RPOP', key)
		elseif kind == 'zadd' then
			res = redis.call('ZADD', key, arg, member)
		elseif kind == 'zrem' then
			res = redis.call('ZREM', key, member)
		elseif kind == 'zremle' then
			local score = redis.call('ZSCORE', key, member)
			if score and tonumber(score) <= tonumber(arg) then
				res = redis.call('ZREM', key, member)
			else
				res = 0
			end
		elseif kind == 'hset' then
			res = redis.call('HSET', key, member, arg)
		elseif kind == 'hget' then
			res = redis.call('HGET', key, member)
		elseif kind == 'hdel' then
			res = redis.call('HDEL', key, member)
		elseif kind == 'hexists' then
			res = redis.call('HEXISTS', key, member)
		elseif kind == 'llen' then
			res = redis.call('LLEN', key)
		elseif kind == 'zcard' then
			res = redis.call('ZCARD', key)
		else
			return redis.error_reply('unknown op ' .. kind)
		end
	end
	results[i] = res
end
return results
`)

func (r *RedisStore) Exec(ctx context.Context, b *Batch) (Results, error) {
	if b.Len() == 0 {
		return Results{}, nil
	}
	if b.Static() {
		return r.execPipelined(ctx, b)
	}
	return r.execScript(ctx, b)
}

func (r *RedisStore) execScript(ctx context.Context, b *Batch) (Results, error) {
	keys := b.Keys()
	keyIndex := make(map[string]int, len(keys))
	for i, k := range keys {
		keyIndex[k] = i + 1
	}

	args := make([]any, 0, b.Len()*6)
	for _, op := range b.Ops() {
		var value string
		switch op.Kind {
		case KindSet:
			value = op.Value
		case KindScoreAdd, KindScoreRemoveAtMost:
			value = strconv.FormatInt(op.Num, 10)
		}
		args = append(args,
			op.Kind.String(),
			keyIndex[op.Name],
			int(op.Member.Ref())+1,
			op.Member.Literal(),
			value,
			int(op.When)+1,
		)
	}

	raw, err := redisBatchScript.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		return nil, unavailable("redis", err)
	}
	if len(raw) != b.Len() {
		return nil, unavailable("redis", fmt.Errorf("batch script returned %d results for %d ops", len(raw), b.Len()))
	}

	res := make(Results, len(raw))
	for i, v := range raw {
		res[i] = redisReply(v)
	}
	return res, nil
}

// redisReply converts a script result element. Under RESP3 a Lua false
// arrives as a boolean, under RESP2 as nil.
func redisReply(v any) Reply {
	switch x := v.(type) {
	case nil:
		return NilReply
	case bool:
		if !x {
			return NilReply
		}
		return IntReply(1)
	case int64:
		return IntReply(x)
	case string:
		return StrReply(x)
	default:
		return StrReply(fmt.Sprint(x))
	}
}

func (r *RedisStore) execPipelined(ctx context.Context, b *Batch) (Results, error) {
	ops := b.Ops()
	cmds := make([]redis.Cmder, len(ops))

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			m := op.Member.Literal()
			switch op.Kind {
			case KindAppend:
				cmds[i] = pipe.LPush(ctx, op.Name, m)
			case KindPopHead:
				cmds[i] = pipe.RPop(ctx, op.Name)
			case KindScoreAdd:
				cmds[i] = pipe.ZAdd(ctx, op.Name, redis.Z{Score: float64(op.Num), Member: m})
			case KindScoreRemove:
				cmds[i] = pipe.ZRem(ctx, op.Name, m)
			case KindSet:
				cmds[i] = pipe.HSet(ctx, op.Name, m, op.Value)
			case KindGet:
				cmds[i] = pipe.HGet(ctx, op.Name, m)
			case KindDelete:
				cmds[i] = pipe.HDel(ctx, op.Name, m)
			case KindExists:
				cmds[i] = pipe.HExists(ctx, op.Name, m)
			case KindSeqLen:
				cmds[i] = pipe.LLen(ctx, op.Name)
			case KindScoreCard:
				cmds[i] = pipe.ZCard(ctx, op.Name)
			default:
				return fmt.Errorf("op %s cannot run in a pipeline", op.Kind)
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("redis", err)
	}

	res := make(Results, len(ops))
	for i, op := range ops {
		switch c := cmds[i].(type) {
		case *redis.StringCmd:
			v, err := c.Result()
			switch {
			case errors.Is(err, redis.Nil):
				res[i] = NilReply
			case err != nil:
				return nil, unavailable("redis", err)
			default:
				res[i] = StrReply(v)
			}
		case *redis.IntCmd:
			n, err := c.Result()
			if err != nil {
				return nil, unavailable("redis", err)
			}
			if op.Kind == KindAppend {
				n = 1
			}
			res[i] = IntReply(n)
		case *redis.BoolCmd:
			ok, err := c.Result()
			if err != nil {
				return nil, unavailable("redis", err)
			}
			res[i], _ = boolReply(ok, nil)
		default:
			return nil, unavailable("redis", fmt.Errorf("unexpected reply type %T", cmds[i]))
		}
	}
	return res, nil
}

func (r *RedisStore) RangeByScore(ctx context.Context, assoc string, min, max int64) ([]string, error) {
	members, err := r.client.ZRangeByScore(ctx, assoc, &redis.ZRangeBy{
		Min: strconv.FormatInt(min, 10),
		Max: strconv.FormatInt(max, 10),
	}).Result()
	if err != nil {
		return nil, unavailable("redis", err)
	}
	return members, nil
}
