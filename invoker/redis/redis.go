// Package redis implements invocation.Invoker against a Redis server.
// Keys are namespaced as "cache:<name>:<keyblob>". CAS variants run as
// Lua scripts so the compare and the write are atomic server-side.
//
// Redis is a single logical keyspace, so the partition hint is ignored;
// partition grouping upstream still bounds per-request batch sizes.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nearcache/future"
	"github.com/unkn0wn-root/nearcache/invocation"
)

var ErrNilClient = errors.New("redis invoker: nil client")

var (
	// GET old, SET new iff the key exists. Returns old or false.
	replaceScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false then return false end
redis.call('SET', KEYS[1], ARGV[1])
return v`)

	// SET new iff current == expected.
	replaceIfSameScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0`)

	// DEL iff current == expected.
	removeIfSameScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0`)
)

type Invoker struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ invocation.Invoker = (*Invoker)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this invoker exclusively owns the client
}

func New(cfg Config) (*Invoker, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Invoker{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Close releases the underlying client only when this invoker owns it.
// Safe to call multiple times.
func (iv *Invoker) Close(context.Context) error {
	if iv.closeClient {
		if err := iv.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (iv *Invoker) Invoke(ctx context.Context, req *invocation.Request, _ int32) *future.Future[*invocation.Response] {
	f := future.New[*invocation.Response]()
	go func() {
		resp, err := iv.execute(ctx, req)
		if err != nil {
			f.Fail(fmt.Errorf("redis invoker: %s: %w", req.Op, err))
			return
		}
		f.Complete(resp)
	}()
	return f
}

func (iv *Invoker) key(name string, kb []byte) string {
	return "cache:" + name + ":" + string(kb)
}

func (iv *Invoker) prefix(name string) string {
	return "cache:" + name + ":"
}

func (iv *Invoker) execute(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	switch req.Op {
	case invocation.OpGet:
		return iv.get(ctx, req)
	case invocation.OpGetAll:
		return iv.getAll(ctx, req)
	case invocation.OpPut:
		return iv.put(ctx, req)
	case invocation.OpPutAll:
		return iv.putAll(ctx, req)
	case invocation.OpPutIfAbsent:
		return iv.putIfAbsent(ctx, req)
	case invocation.OpReplace:
		return iv.replace(ctx, req)
	case invocation.OpReplaceIfSame:
		return iv.replaceIfSame(ctx, req)
	case invocation.OpRemove:
		return iv.remove(ctx, req)
	case invocation.OpRemoveIfSame:
		return iv.removeIfSame(ctx, req)
	case invocation.OpSize:
		return iv.size(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported op %d", req.Op)
	}
}

func (iv *Invoker) get(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	b, err := iv.rdb.Get(ctx, iv.key(req.Name, req.Key)).Bytes()
	if err == goredis.Nil {
		return &invocation.Response{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &invocation.Response{Value: b, Found: true}, nil
}

func (iv *Invoker) getAll(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	if len(req.Keys) == 0 {
		return &invocation.Response{}, nil
	}
	keys := make([]string, len(req.Keys))
	for i, kb := range req.Keys {
		keys[i] = iv.key(req.Name, kb)
	}
	vals, err := iv.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	resp := &invocation.Response{}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // absent keys are omitted, as the contract allows
		}
		resp.Entries = append(resp.Entries, invocation.Entry{Key: req.Keys[i], Value: []byte(s)})
	}
	return resp, nil
}

func (iv *Invoker) put(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	k := iv.key(req.Name, req.Key)
	if req.WantOld {
		old, err := iv.rdb.SetArgs(ctx, k, req.Value, goredis.SetArgs{Get: true}).Result()
		if err == goredis.Nil {
			return &invocation.Response{Applied: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return &invocation.Response{Value: []byte(old), Found: true, Applied: true}, nil
	}
	if err := iv.rdb.Set(ctx, k, req.Value, 0).Err(); err != nil {
		return nil, err
	}
	return &invocation.Response{Applied: true}, nil
}

func (iv *Invoker) putAll(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	pipe := iv.rdb.Pipeline()
	for _, e := range req.Entries {
		pipe.Set(ctx, iv.key(req.Name, e.Key), e.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &invocation.Response{Applied: true}, nil
}

func (iv *Invoker) putIfAbsent(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	ok, err := iv.rdb.SetNX(ctx, iv.key(req.Name, req.Key), req.Value, 0).Result()
	if err != nil {
		return nil, err
	}
	return &invocation.Response{Applied: ok}, nil
}

func (iv *Invoker) replace(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	res, err := replaceScript.Run(ctx, iv.rdb, []string{iv.key(req.Name, req.Key)}, req.Value).Result()
	if err == goredis.Nil {
		return &invocation.Response{}, nil // key absent; not applied
	}
	if err != nil {
		return nil, err
	}
	old, _ := res.(string)
	return &invocation.Response{Value: []byte(old), Found: true, Applied: true}, nil
}

func (iv *Invoker) replaceIfSame(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	res, err := replaceIfSameScript.Run(ctx, iv.rdb,
		[]string{iv.key(req.Name, req.Key)}, req.OldValue, req.Value).Int()
	if err != nil {
		return nil, err
	}
	return &invocation.Response{Applied: res == 1}, nil
}

func (iv *Invoker) remove(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	k := iv.key(req.Name, req.Key)
	if req.WantOld {
		old, err := iv.rdb.GetDel(ctx, k).Bytes()
		if err == goredis.Nil {
			return &invocation.Response{}, nil
		}
		if err != nil {
			return nil, err
		}
		return &invocation.Response{Value: old, Found: true, Applied: true}, nil
	}
	n, err := iv.rdb.Del(ctx, k).Result()
	if err != nil {
		return nil, err
	}
	return &invocation.Response{Applied: n > 0}, nil
}

func (iv *Invoker) removeIfSame(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	res, err := removeIfSameScript.Run(ctx, iv.rdb,
		[]string{iv.key(req.Name, req.Key)}, req.OldValue).Int()
	if err != nil {
		return nil, err
	}
	return &invocation.Response{Applied: res == 1}, nil
}

// size counts keys under this cache's prefix with SCAN, so co-located
// caches in the same database do not inflate each other's counts.
func (iv *Invoker) size(ctx context.Context, req *invocation.Request) (*invocation.Response, error) {
	var (
		cursor uint64
		count  int64
	)
	match := iv.prefix(req.Name) + "*"
	for {
		keys, next, err := iv.rdb.Scan(ctx, cursor, match, 512).Result()
		if err != nil {
			return nil, err
		}
		count += int64(len(keys))
		if next == 0 {
			break
		}
		cursor = next
	}
	return &invocation.Response{Count: count}, nil
}
