package nearcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/unkn0wn-root/nearcache/codec"
	"github.com/unkn0wn-root/nearcache/future"
	"github.com/unkn0wn-root/nearcache/invocation"
	"github.com/unkn0wn-root/nearcache/routing"
)

// memInvoker is a single-process stand-in for the remote cluster. It
// applies requests to a plain map and counts calls per op, with optional
// failure injection per op or per partition. gateGet, when set before
// use, delays OpGet execution until the channel is closed.
type memInvoker struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls map[invocation.Op]int

	failOps        map[invocation.Op]error
	failPartitions map[int32]error

	gateGet chan struct{}
}

func newMemInvoker() *memInvoker {
	return &memInvoker{
		data:           make(map[string][]byte),
		calls:          make(map[invocation.Op]int),
		failOps:        make(map[invocation.Op]error),
		failPartitions: make(map[int32]error),
	}
}

var _ invocation.Invoker = (*memInvoker)(nil)

func (m *memInvoker) Invoke(_ context.Context, req *invocation.Request, partition int32) *future.Future[*invocation.Response] {
	return future.Go(func() (*invocation.Response, error) {
		if m.gateGet != nil && req.Op == invocation.OpGet {
			<-m.gateGet
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.calls[req.Op]++
		if err := m.failOps[req.Op]; err != nil {
			return nil, err
		}
		if err := m.failPartitions[partition]; err != nil {
			return nil, err
		}
		return m.execute(req)
	})
}

func (m *memInvoker) execute(req *invocation.Request) (*invocation.Response, error) {
	k := string(req.Key)
	switch req.Op {
	case invocation.OpGet:
		v, ok := m.data[k]
		if !ok {
			return &invocation.Response{}, nil
		}
		return &invocation.Response{Value: cloneBytes(v), Found: true}, nil

	case invocation.OpGetAll:
		resp := &invocation.Response{}
		for _, kb := range req.Keys {
			if v, ok := m.data[string(kb)]; ok {
				resp.Entries = append(resp.Entries, invocation.Entry{Key: kb, Value: cloneBytes(v)})
			}
		}
		return resp, nil

	case invocation.OpPut:
		old, had := m.data[k]
		m.data[k] = cloneBytes(req.Value)
		if req.WantOld && had {
			return &invocation.Response{Value: old, Found: true, Applied: true}, nil
		}
		return &invocation.Response{Applied: true}, nil

	case invocation.OpPutAll:
		for _, e := range req.Entries {
			m.data[string(e.Key)] = cloneBytes(e.Value)
		}
		return &invocation.Response{Applied: true}, nil

	case invocation.OpPutIfAbsent:
		if _, ok := m.data[k]; ok {
			return &invocation.Response{}, nil
		}
		m.data[k] = cloneBytes(req.Value)
		return &invocation.Response{Applied: true}, nil

	case invocation.OpReplace:
		old, ok := m.data[k]
		if !ok {
			return &invocation.Response{}, nil
		}
		m.data[k] = cloneBytes(req.Value)
		return &invocation.Response{Value: old, Found: true, Applied: true}, nil

	case invocation.OpReplaceIfSame:
		if cur, ok := m.data[k]; !ok || !bytes.Equal(cur, req.OldValue) {
			return &invocation.Response{}, nil
		}
		m.data[k] = cloneBytes(req.Value)
		return &invocation.Response{Applied: true}, nil

	case invocation.OpRemove:
		old, ok := m.data[k]
		delete(m.data, k)
		if req.WantOld && ok {
			return &invocation.Response{Value: old, Found: true, Applied: true}, nil
		}
		return &invocation.Response{Applied: ok}, nil

	case invocation.OpRemoveIfSame:
		if cur, ok := m.data[k]; !ok || !bytes.Equal(cur, req.OldValue) {
			return &invocation.Response{}, nil
		}
		delete(m.data, k)
		return &invocation.Response{Applied: true}, nil

	case invocation.OpSize:
		return &invocation.Response{Count: int64(len(m.data))}, nil
	}
	return nil, fmt.Errorf("unexpected op %s", req.Op)
}

func cloneBytes(b []byte) []byte { return append([]byte(nil), b...) }

func (m *memInvoker) callCount(op invocation.Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memInvoker) seed(key, value string) {
	m.mu.Lock()
	m.data[key] = []byte(value)
	m.mu.Unlock()
}

func (m *memInvoker) failOp(op invocation.Op, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.failOps, op)
	} else {
		m.failOps[op] = err
	}
	m.mu.Unlock()
}

func testResolver(t *testing.T) routing.Resolver {
	t.Helper()
	r, err := routing.NewHashResolver(4)
	if err != nil {
		t.Fatalf("NewHashResolver: %v", err)
	}
	return r
}

func newTestCache(t *testing.T, inv invocation.Invoker, mod func(*Options[string, string])) Cache[string, string] {
	t.Helper()
	opts := Options[string, string]{
		Name:       "orders",
		Invoker:    inv,
		Resolver:   testResolver(t),
		KeyCodec:   codec.String{},
		ValueCodec: codec.String{},
		NearCache:  true,
		Statistics: true,
	}
	if mod != nil {
		mod(&opts)
	}
	cache, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close(context.Background()) })
	return cache
}

func TestGetMissThenHit(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	inv.seed("k", "v")
	cache := newTestCache(t, inv, nil)

	for i := 0; i < 2; i++ {
		v, found, err := cache.Get(ctx, "k")
		if err != nil || !found || v != "v" {
			t.Fatalf("Get #%d: v=%q found=%v err=%v", i+1, v, found, err)
		}
	}
	if got := inv.callCount(invocation.OpGet); got != 1 {
		t.Fatalf("remote gets: want 1, got %d", got)
	}

	snap, ok := cache.Stats()
	if !ok {
		t.Fatal("Stats: no snapshot")
	}
	if snap.Hits != 1 || snap.Misses != 1 {
		t.Fatalf("stats: hits=%d misses=%d", snap.Hits, snap.Misses)
	}
}

func TestGetCachesAbsence(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, nil)

	for i := 0; i < 2; i++ {
		_, found, err := cache.Get(ctx, "missing")
		if err != nil || found {
			t.Fatalf("Get #%d: found=%v err=%v", i+1, found, err)
		}
	}
	// the second read is served by the cached "no value" marker
	if got := inv.callCount(invocation.OpGet); got != 1 {
		t.Fatalf("remote gets: want 1, got %d", got)
	}
}

func TestGetFailureLeavesNoDanglingReservation(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	inv.seed("k", "v")
	cache := newTestCache(t, inv, nil)

	boom := errors.New("partition offline")
	inv.failOp(invocation.OpGet, boom)
	if _, _, err := cache.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("Get during outage: err=%v", err)
	}

	inv.failOp(invocation.OpGet, nil)
	v, found, err := cache.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Fatalf("Get after recovery: v=%q found=%v err=%v", v, found, err)
	}
	// and the recovered value is cached normally
	if _, _, err := cache.Get(ctx, "k"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := inv.callCount(invocation.OpGet); got != 2 {
		t.Fatalf("remote gets: want 2, got %d", got)
	}
}

func TestPutInvalidatesByDefault(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	inv.seed("k", "old")
	cache := newTestCache(t, inv, nil)

	if _, _, err := cache.Get(ctx, "k"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := cache.Put(ctx, "k", "new"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, found, err := cache.Get(ctx, "k")
	if err != nil || !found || v != "new" {
		t.Fatalf("Get after put: v=%q found=%v err=%v", v, found, err)
	}
	// the put dropped the local copy, so the read went remote again
	if got := inv.callCount(invocation.OpGet); got != 2 {
		t.Fatalf("remote gets: want 2, got %d", got)
	}
}

func TestCacheOnUpdateServesOwnWrites(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, func(o *Options[string, string]) {
		o.CacheOnUpdate = true
	})

	if err := cache.Put(ctx, "k", "v1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, _, err := cache.Get(ctx, "k"); err != nil || v != "v1" {
		t.Fatalf("Get: v=%q err=%v", v, err)
	}

	if err := cache.Put(ctx, "k", "v2"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if v, _, err := cache.Get(ctx, "k"); err != nil || v != "v2" {
		t.Fatalf("Get after overwrite: v=%q err=%v", v, err)
	}

	if got := inv.callCount(invocation.OpGet); got != 0 {
		t.Fatalf("remote gets: want 0, got %d", got)
	}
}

// TestOwnWriteBeatsInflightRead pins the core coherence property: a read
// that was already in flight when an own write landed must not overwrite
// the write's value in the near cache.
func TestOwnWriteBeatsInflightRead(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	inv.seed("k", "old")
	inv.gateGet = make(chan struct{})
	hooks := newRecHooks()
	cache := newTestCache(t, inv, func(o *Options[string, string]) {
		o.CacheOnUpdate = true
		o.Hooks = hooks
	})

	read := cache.GetAsync(ctx, "k") // reserves, then blocks on the gate
	if err := cache.Put(ctx, "k", "new"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	close(inv.gateGet)

	// the read still returns what the remote returned at fetch time
	r, err := read.Await(ctx)
	if err != nil || !r.Found || r.Value != "old" {
		t.Fatalf("in-flight read: v=%q found=%v err=%v", r.Value, r.Found, err)
	}
	if hooks.staleCount() != 1 {
		t.Fatalf("stale drops: want 1, got %d", hooks.staleCount())
	}

	// but the near cache kept the own write
	gets := inv.callCount(invocation.OpGet)
	v, _, err := cache.Get(ctx, "k")
	if err != nil || v != "new" {
		t.Fatalf("Get after race: v=%q err=%v", v, err)
	}
	if got := inv.callCount(invocation.OpGet); got != gets {
		t.Fatal("near cache lost the own write to the stale read")
	}
}

func TestGetAndPut(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, nil)

	if _, found, err := cache.GetAndPut(ctx, "k", "v1"); err != nil || found {
		t.Fatalf("first GetAndPut: found=%v err=%v", found, err)
	}
	old, found, err := cache.GetAndPut(ctx, "k", "v2")
	if err != nil || !found || old != "v1" {
		t.Fatalf("second GetAndPut: old=%q found=%v err=%v", old, found, err)
	}
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, nil)

	ok, err := cache.PutIfAbsent(ctx, "k", "v1")
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent: ok=%v err=%v", ok, err)
	}
	ok, err = cache.PutIfAbsent(ctx, "k", "v2")
	if err != nil || ok {
		t.Fatalf("second PutIfAbsent: ok=%v err=%v", ok, err)
	}

	v, _, err := cache.Get(ctx, "k")
	if err != nil || v != "v1" {
		t.Fatalf("Get: v=%q err=%v", v, err)
	}
}

func TestReplaceFamily(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, nil)

	if ok, err := cache.Replace(ctx, "k", "v1"); err != nil || ok {
		t.Fatalf("Replace on missing key: ok=%v err=%v", ok, err)
	}
	if err := cache.Put(ctx, "k", "v1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := cache.Replace(ctx, "k", "v2"); err != nil || !ok {
		t.Fatalf("Replace: ok=%v err=%v", ok, err)
	}

	if ok, err := cache.ReplaceIfSame(ctx, "k", "wrong", "v3"); err != nil || ok {
		t.Fatalf("ReplaceIfSame mismatched: ok=%v err=%v", ok, err)
	}
	if ok, err := cache.ReplaceIfSame(ctx, "k", "v2", "v3"); err != nil || !ok {
		t.Fatalf("ReplaceIfSame matched: ok=%v err=%v", ok, err)
	}

	old, found, err := cache.GetAndReplace(ctx, "k", "v4")
	if err != nil || !found || old != "v3" {
		t.Fatalf("GetAndReplace: old=%q found=%v err=%v", old, found, err)
	}
	if v, _, err := cache.Get(ctx, "k"); err != nil || v != "v4" {
		t.Fatalf("Get: v=%q err=%v", v, err)
	}
}

func TestRemoveFamily(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, nil)

	if ok, err := cache.Remove(ctx, "k"); err != nil || ok {
		t.Fatalf("Remove on missing key: ok=%v err=%v", ok, err)
	}

	if err := cache.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := cache.Remove(ctx, "k"); err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}

	if err := cache.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := cache.RemoveIfSame(ctx, "k", "wrong"); err != nil || ok {
		t.Fatalf("RemoveIfSame mismatched: ok=%v err=%v", ok, err)
	}
	if ok, err := cache.RemoveIfSame(ctx, "k", "v"); err != nil || !ok {
		t.Fatalf("RemoveIfSame matched: ok=%v err=%v", ok, err)
	}

	if err := cache.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	old, found, err := cache.GetAndRemove(ctx, "k")
	if err != nil || !found || old != "v" {
		t.Fatalf("GetAndRemove: old=%q found=%v err=%v", old, found, err)
	}
	if _, found, err := cache.Get(ctx, "k"); err != nil || found {
		t.Fatalf("Get after remove: found=%v err=%v", found, err)
	}
}

func TestRemoveDropsCachedCopy(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, func(o *Options[string, string]) {
		o.CacheOnUpdate = true
	})

	if err := cache.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cache.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, found, err := cache.Get(ctx, "k")
	if err != nil || found {
		t.Fatalf("Get after remove: found=%v err=%v", found, err)
	}
	// the removal dropped the published copy, so the read went remote
	if got := inv.callCount(invocation.OpGet); got != 1 {
		t.Fatalf("remote gets: want 1, got %d", got)
	}
}

func TestSize(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	inv.seed("a", "1")
	inv.seed("b", "2")
	cache := newTestCache(t, inv, nil)

	n, err := cache.Size(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Size: n=%d err=%v", n, err)
	}
}

func TestNilArguments(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	resolver := testResolver(t)
	cache, err := New(Options[*string, *string]{
		Name:       "ptr",
		Invoker:    inv,
		Resolver:   resolver,
		KeyCodec:   codec.JSON[*string]{},
		ValueCodec: codec.JSON[*string]{},
		NearCache:  true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cache.Close(ctx)

	if _, _, err := cache.Get(ctx, nil); !errors.Is(err, ErrNilKey) {
		t.Fatalf("Get(nil): %v", err)
	}
	k := "k"
	if err := cache.Put(ctx, &k, nil); !errors.Is(err, ErrNilValue) {
		t.Fatalf("Put(nil value): %v", err)
	}
	if err := cache.PutAll(ctx, map[*string]*string{&k: nil}); !errors.Is(err, ErrNilValue) {
		t.Fatalf("PutAll(nil value): %v", err)
	}

	// validation failures never reach the cluster
	for op, n := range inv.calls {
		if n != 0 {
			t.Fatalf("op %s invoked %d times", op, n)
		}
	}
}

func TestClosedCache(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, newMemInvoker(), nil)
	if err := cache.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, _, err := cache.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after close: %v", err)
	}
	if err := cache.Put(ctx, "k", "v"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after close: %v", err)
	}
	if _, err := cache.Size(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Size after close: %v", err)
	}
}

func TestRequiredOptions(t *testing.T) {
	inv := newMemInvoker()
	resolver := testResolver(t)
	base := func() Options[string, string] {
		return Options[string, string]{
			Name:       "t",
			Invoker:    inv,
			Resolver:   resolver,
			KeyCodec:   codec.String{},
			ValueCodec: codec.String{},
		}
	}

	cases := []struct {
		name string
		mod  func(*Options[string, string])
	}{
		{"name", func(o *Options[string, string]) { o.Name = "" }},
		{"invoker", func(o *Options[string, string]) { o.Invoker = nil }},
		{"resolver", func(o *Options[string, string]) { o.Resolver = nil }},
		{"key codec", func(o *Options[string, string]) { o.KeyCodec = nil }},
		{"value codec", func(o *Options[string, string]) { o.ValueCodec = nil }},
	}
	for _, tc := range cases {
		opts := base()
		tc.mod(&opts)
		if _, err := New(opts); err == nil {
			t.Fatalf("New without %s: expected error", tc.name)
		}
	}

	if _, err := New(base()); err != nil {
		t.Fatalf("New with all required options: %v", err)
	}
}

func TestStatsDisabled(t *testing.T) {
	cache := newTestCache(t, newMemInvoker(), func(o *Options[string, string]) {
		o.Statistics = false
	})
	if _, ok := cache.Stats(); ok {
		t.Fatal("Stats: snapshot reported while disabled")
	}
}

func TestAsyncForms(t *testing.T) {
	ctx := context.Background()
	inv := newMemInvoker()
	cache := newTestCache(t, inv, nil)

	if _, err := cache.PutAsync(ctx, "k", "v").Await(ctx); err != nil {
		t.Fatalf("PutAsync: %v", err)
	}
	r, err := cache.GetAsync(ctx, "k").Await(ctx)
	if err != nil || !r.Found || r.Value != "v" {
		t.Fatalf("GetAsync: v=%q found=%v err=%v", r.Value, r.Found, err)
	}
	ok, err := cache.RemoveAsync(ctx, "k").Await(ctx)
	if err != nil || !ok {
		t.Fatalf("RemoveAsync: ok=%v err=%v", ok, err)
	}
}
