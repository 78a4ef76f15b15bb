package nearcache

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	c "github.com/unkn0wn-root/nearcache/codec"
	"github.com/unkn0wn-root/nearcache/future"
	"github.com/unkn0wn-root/nearcache/invocation"
	"github.com/unkn0wn-root/nearcache/routing"
	"github.com/unkn0wn-root/nearcache/stats"
	"github.com/unkn0wn-root/nearcache/store"
)

type client[K comparable, V any] struct {
	name     string
	inv      invocation.Invoker
	resolver routing.Resolver
	keyc     c.Codec[K]
	valc     c.Codec[V]

	near          *nearStore
	cacheOnUpdate bool

	stats  stats.Recorder
	log    Logger
	hooks  Hooks
	closed atomic.Bool
}

func newClient[K comparable, V any](opts Options[K, V]) (*client[K, V], error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("nearcache: name is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("nearcache: invoker is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("nearcache: resolver is required")
	}
	if opts.KeyCodec == nil {
		return nil, fmt.Errorf("nearcache: key codec is required")
	}
	if opts.ValueCodec == nil {
		return nil, fmt.Errorf("nearcache: value codec is required")
	}

	cl := &client[K, V]{
		name:          opts.Name,
		inv:           opts.Invoker,
		resolver:      opts.Resolver,
		keyc:          opts.KeyCodec,
		valc:          opts.ValueCodec,
		cacheOnUpdate: opts.CacheOnUpdate,
	}

	cl.log = coalesce[Logger](opts.Logger, NopLogger{})
	cl.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	switch {
	case opts.Stats != nil:
		cl.stats = opts.Stats
	case opts.Statistics:
		cl.stats = stats.NewAtomic()
	default:
		cl.stats = stats.Nop{}
	}

	st := opts.Store
	if opts.NearCache && st == nil {
		st = store.NewMap()
	}
	sweep := coalesce[time.Duration](opts.SweepInterval, defaultSweep)
	retention := coalesce[time.Duration](opts.SlotRetention, defaultRetention)
	cl.near = newNearStore(opts.Name, st, opts.NearCache, sweep, retention, cl.log, cl.hooks)

	return cl, nil
}

func (cl *client[K, V]) Close(ctx context.Context) error {
	cl.closed.Store(true)
	return cl.near.Close(ctx)
}

func (cl *client[K, V]) Stats() (stats.Snapshot, bool) {
	if a, ok := cl.stats.(*stats.Atomic); ok {
		return a.Snapshot(), true
	}
	return stats.Snapshot{}, false
}

// isNilArg reports whether v is a typed nil for kinds that can hold one.
// Validation happens before any remote call or cache mutation.
func isNilArg(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

// encodeKey produces the canonical key blob and the near-cache storage key.
func (cl *client[K, V]) encodeKey(key K) (kb []byte, sk string, err error) {
	if isNilArg(key) {
		return nil, "", ErrNilKey
	}
	kb, err = cl.keyc.Encode(key)
	if err != nil {
		return nil, "", fmt.Errorf("nearcache: encode key: %w", err)
	}
	return kb, cl.near.storageKey(kb), nil
}

func (cl *client[K, V]) encodeValue(value V) ([]byte, error) {
	if isNilArg(value) {
		return nil, ErrNilValue
	}
	vb, err := cl.valc.Encode(value)
	if err != nil {
		return nil, fmt.Errorf("nearcache: encode value: %w", err)
	}
	return vb, nil
}

// reconcileWrite applies the cache-on-update policy after a confirmed
// own write: publish the fresh value, or just drop the local copy.
func (cl *client[K, V]) reconcileWrite(ctx context.Context, sk string, valueBlob []byte) {
	if cl.cacheOnUpdate {
		cl.near.Publish(ctx, sk, valueBlob, false)
	} else {
		cl.near.Invalidate(ctx, sk)
	}
}

// ---- get ----

func (cl *client[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	r, err := cl.GetAsync(ctx, key).Await(ctx)
	return r.Value, r.Found, err
}

func (cl *client[K, V]) GetAsync(ctx context.Context, key K) *future.Future[Value[V]] {
	start := time.Now()
	if cl.closed.Load() {
		return future.Failed[Value[V]](ErrClosed)
	}
	kb, sk, err := cl.encodeKey(key)
	if err != nil {
		return future.Failed[Value[V]](err)
	}

	if payload, absent, ok := cl.near.Lookup(ctx, sk); ok {
		if absent {
			cl.stats.Hit()
			return future.Completed(Value[V]{})
		}
		if v, derr := cl.valc.Decode(payload); derr == nil {
			cl.stats.Hit()
			return future.Completed(Value[V]{Value: v, Found: true})
		}
		// codec mismatch with the cached frame; drop it and refetch
		cl.near.Invalidate(ctx, sk)
		cl.hooks.SelfHeal(sk, "value_decode")
	}

	cl.stats.Miss()
	ticket := cl.near.Reserve(sk)

	req := &invocation.Request{Op: invocation.OpGet, Name: cl.name, Key: kb}
	f := cl.inv.Invoke(ctx, req, cl.resolver.PartitionOf(kb))
	return future.Then(f, func(resp *invocation.Response, err error) (Value[V], error) {
		if err != nil {
			// outcome unknown; the ticket advances so it can never block
			// a later legitimate commit
			cl.near.Invalidate(ctx, sk)
			return Value[V]{}, err
		}
		cl.near.Commit(ctx, sk, resp.Value, !resp.Found, ticket)
		cl.stats.AddGetLatency(time.Since(start))
		if !resp.Found {
			return Value[V]{}, nil
		}
		v, derr := cl.valc.Decode(resp.Value)
		if derr != nil {
			cl.near.Invalidate(ctx, sk)
			return Value[V]{}, derr
		}
		return Value[V]{Value: v, Found: true}, nil
	})
}

// ---- put family ----

func (cl *client[K, V]) Put(ctx context.Context, key K, value V) error {
	_, err := cl.putAsync(ctx, key, value, false).Await(ctx)
	return err
}

func (cl *client[K, V]) PutAsync(ctx context.Context, key K, value V) *future.Future[Void] {
	return dropValue(cl.putAsync(ctx, key, value, false))
}

func (cl *client[K, V]) GetAndPut(ctx context.Context, key K, value V) (V, bool, error) {
	r, err := cl.putAsync(ctx, key, value, true).Await(ctx)
	return r.Value, r.Found, err
}

func (cl *client[K, V]) GetAndPutAsync(ctx context.Context, key K, value V) *future.Future[Value[V]] {
	return cl.putAsync(ctx, key, value, true)
}

func (cl *client[K, V]) putAsync(ctx context.Context, key K, value V, wantOld bool) *future.Future[Value[V]] {
	start := time.Now()
	if cl.closed.Load() {
		return future.Failed[Value[V]](ErrClosed)
	}
	kb, sk, err := cl.encodeKey(key)
	if err != nil {
		return future.Failed[Value[V]](err)
	}
	vb, err := cl.encodeValue(value)
	if err != nil {
		return future.Failed[Value[V]](err)
	}

	req := &invocation.Request{Op: invocation.OpPut, Name: cl.name, Key: kb, Value: vb, WantOld: wantOld}
	f := cl.inv.Invoke(ctx, req, cl.resolver.PartitionOf(kb))
	return future.Then(f, func(resp *invocation.Response, err error) (Value[V], error) {
		if err != nil {
			cl.near.Invalidate(ctx, sk)
			return Value[V]{}, err
		}
		cl.reconcileWrite(ctx, sk, vb)
		cl.stats.Put(1)
		cl.stats.AddPutLatency(time.Since(start))
		if !wantOld || !resp.Found {
			return Value[V]{}, nil
		}
		old, derr := cl.valc.Decode(resp.Value)
		if derr != nil {
			return Value[V]{}, derr
		}
		return Value[V]{Value: old, Found: true}, nil
	})
}

func (cl *client[K, V]) PutIfAbsent(ctx context.Context, key K, value V) (bool, error) {
	return cl.PutIfAbsentAsync(ctx, key, value).Await(ctx)
}

func (cl *client[K, V]) PutIfAbsentAsync(ctx context.Context, key K, value V) *future.Future[bool] {
	start := time.Now()
	if cl.closed.Load() {
		return future.Failed[bool](ErrClosed)
	}
	kb, sk, err := cl.encodeKey(key)
	if err != nil {
		return future.Failed[bool](err)
	}
	vb, err := cl.encodeValue(value)
	if err != nil {
		return future.Failed[bool](err)
	}

	req := &invocation.Request{Op: invocation.OpPutIfAbsent, Name: cl.name, Key: kb, Value: vb}
	f := cl.inv.Invoke(ctx, req, cl.resolver.PartitionOf(kb))
	return future.Then(f, func(resp *invocation.Response, err error) (bool, error) {
		if err != nil {
			cl.near.Invalidate(ctx, sk)
			return false, err
		}
		cl.applyConditional(ctx, sk, vb, resp.Applied)
		cl.stats.AddPutLatency(time.Since(start))
		return resp.Applied, nil
	})
}

// applyConditional reconciles after a conditional mutation. When the op
// applied, the new value is the freshest local knowledge. When it did
// not, the failed comparison proves the local copy may be stale, so it
// is dropped rather than left alone.
func (cl *client[K, V]) applyConditional(ctx context.Context, sk string, newBlob []byte, applied bool) {
	if applied {
		cl.reconcileWrite(ctx, sk, newBlob)
		cl.stats.Put(1)
		return
	}
	cl.near.Invalidate(ctx, sk)
}

// ---- replace family ----

func (cl *client[K, V]) Replace(ctx context.Context, key K, value V) (bool, error) {
	return cl.ReplaceAsync(ctx, key, value).Await(ctx)
}

func (cl *client[K, V]) ReplaceAsync(ctx context.Context, key K, value V) *future.Future[bool] {
	return appliedOnly(cl.replaceAsync(ctx, key, nil, value, false))
}

func (cl *client[K, V]) ReplaceIfSame(ctx context.Context, key K, oldValue, newValue V) (bool, error) {
	return cl.ReplaceIfSameAsync(ctx, key, oldValue, newValue).Await(ctx)
}

func (cl *client[K, V]) ReplaceIfSameAsync(ctx context.Context, key K, oldValue, newValue V) *future.Future[bool] {
	return appliedOnly(cl.replaceAsync(ctx, key, &oldValue, newValue, false))
}

func (cl *client[K, V]) GetAndReplace(ctx context.Context, key K, value V) (V, bool, error) {
	r, err := cl.replaceAsync(ctx, key, nil, value, true).Await(ctx)
	return r.old.Value, r.old.Found, err
}

func (cl *client[K, V]) GetAndReplaceAsync(ctx context.Context, key K, value V) *future.Future[Value[V]] {
	return oldOnly(cl.replaceAsync(ctx, key, nil, value, true))
}

// condResult is the combined outcome of a conditional mutation.
type condResult[V any] struct {
	old     Value[V]
	applied bool
}

func (cl *client[K, V]) replaceAsync(ctx context.Context, key K, oldValue *V, newValue V, wantOld bool) *future.Future[condResult[V]] {
	start := time.Now()
	if cl.closed.Load() {
		return future.Failed[condResult[V]](ErrClosed)
	}
	kb, sk, err := cl.encodeKey(key)
	if err != nil {
		return future.Failed[condResult[V]](err)
	}
	vb, err := cl.encodeValue(newValue)
	if err != nil {
		return future.Failed[condResult[V]](err)
	}

	req := &invocation.Request{Op: invocation.OpReplace, Name: cl.name, Key: kb, Value: vb, WantOld: wantOld}
	if oldValue != nil {
		ob, oerr := cl.encodeValue(*oldValue)
		if oerr != nil {
			return future.Failed[condResult[V]](oerr)
		}
		req.Op = invocation.OpReplaceIfSame
		req.OldValue = ob
	}

	f := cl.inv.Invoke(ctx, req, cl.resolver.PartitionOf(kb))
	return future.Then(f, func(resp *invocation.Response, err error) (condResult[V], error) {
		if err != nil {
			cl.near.Invalidate(ctx, sk)
			return condResult[V]{}, err
		}
		cl.applyConditional(ctx, sk, vb, resp.Applied)
		cl.stats.AddPutLatency(time.Since(start))

		out := condResult[V]{applied: resp.Applied}
		if wantOld && resp.Found {
			old, derr := cl.valc.Decode(resp.Value)
			if derr != nil {
				return condResult[V]{}, derr
			}
			out.old = Value[V]{Value: old, Found: true}
		}
		return out, nil
	})
}

// ---- remove family ----

func (cl *client[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	return cl.RemoveAsync(ctx, key).Await(ctx)
}

func (cl *client[K, V]) RemoveAsync(ctx context.Context, key K) *future.Future[bool] {
	return appliedOnly(cl.removeAsync(ctx, key, nil, false))
}

func (cl *client[K, V]) RemoveIfSame(ctx context.Context, key K, oldValue V) (bool, error) {
	return cl.RemoveIfSameAsync(ctx, key, oldValue).Await(ctx)
}

func (cl *client[K, V]) RemoveIfSameAsync(ctx context.Context, key K, oldValue V) *future.Future[bool] {
	return appliedOnly(cl.removeAsync(ctx, key, &oldValue, false))
}

func (cl *client[K, V]) GetAndRemove(ctx context.Context, key K) (V, bool, error) {
	r, err := cl.removeAsync(ctx, key, nil, true).Await(ctx)
	return r.old.Value, r.old.Found, err
}

func (cl *client[K, V]) GetAndRemoveAsync(ctx context.Context, key K) *future.Future[Value[V]] {
	return oldOnly(cl.removeAsync(ctx, key, nil, true))
}

func (cl *client[K, V]) removeAsync(ctx context.Context, key K, oldValue *V, wantOld bool) *future.Future[condResult[V]] {
	if cl.closed.Load() {
		return future.Failed[condResult[V]](ErrClosed)
	}
	kb, sk, err := cl.encodeKey(key)
	if err != nil {
		return future.Failed[condResult[V]](err)
	}

	req := &invocation.Request{Op: invocation.OpRemove, Name: cl.name, Key: kb, WantOld: wantOld}
	if oldValue != nil {
		ob, oerr := cl.encodeValue(*oldValue)
		if oerr != nil {
			return future.Failed[condResult[V]](oerr)
		}
		req.Op = invocation.OpRemoveIfSame
		req.OldValue = ob
	}

	f := cl.inv.Invoke(ctx, req, cl.resolver.PartitionOf(kb))
	return future.Then(f, func(resp *invocation.Response, err error) (condResult[V], error) {
		// a removal attempt always drops the local copy; either the key
		// is gone server-side or the outcome is unknown
		cl.near.Invalidate(ctx, sk)
		if err != nil {
			return condResult[V]{}, err
		}

		out := condResult[V]{applied: resp.Applied}
		if wantOld && resp.Found {
			old, derr := cl.valc.Decode(resp.Value)
			if derr != nil {
				return condResult[V]{}, derr
			}
			out.old = Value[V]{Value: old, Found: true}
		}
		return out, nil
	})
}

// ---- size ----

func (cl *client[K, V]) Size(ctx context.Context) (int64, error) {
	return cl.SizeAsync(ctx).Await(ctx)
}

func (cl *client[K, V]) SizeAsync(ctx context.Context) *future.Future[int64] {
	if cl.closed.Load() {
		return future.Failed[int64](ErrClosed)
	}
	req := &invocation.Request{Op: invocation.OpSize, Name: cl.name}
	f := cl.inv.Invoke(ctx, req, routing.PartitionAny)
	return future.Then(f, func(resp *invocation.Response, err error) (int64, error) {
		if err != nil {
			return 0, err
		}
		return resp.Count, nil
	})
}

// ---- future shims ----

func dropValue[V any](f *future.Future[Value[V]]) *future.Future[Void] {
	return future.Then(f, func(_ Value[V], err error) (Void, error) {
		return Void{}, err
	})
}

func appliedOnly[V any](f *future.Future[condResult[V]]) *future.Future[bool] {
	return future.Then(f, func(r condResult[V], err error) (bool, error) {
		return r.applied, err
	})
}

func oldOnly[V any](f *future.Future[condResult[V]]) *future.Future[Value[V]] {
	return future.Then(f, func(r condResult[V], err error) (Value[V], error) {
		return r.old, err
	})
}
