// Package nearcache implements the client-side near-cache layer of a
// distributed key-value cache: a local, possibly-stale copy of recently
// seen entries that is guaranteed never to regress behind the freshest
// write or invalidation this process has observed.
//
// Coherence is reservation based. A miss takes a per-key monotonic ticket
// before the remote fetch; the fetched value is committed only while that
// ticket is still current. Any reservation, invalidation, or own write
// issued in between advances the ticket and silently voids the commit, so
// a slow fetch can never clobber fresher local knowledge.
//
// Components:
//   - store.Store: byte store holding framed slot values (Map default,
//     ristretto, bigcache, expirable LRU).
//   - invocation.Invoker: executes operations against the remote cluster
//     (see invoker/redis for a Redis-backed implementation).
//   - routing.Resolver: maps key blobs to owning partitions.
//   - codec.Codec: (de)serializes keys and values.
//
// Every operation has a blocking form and a non-blocking form returning a
// *future.Future; by the time an async future resolves, near-cache
// reconciliation for that operation has already happened.
//
// Usage:
//
//	inv, _ := redisinvoker.New(redisinvoker.Config{Client: rdb})
//	res, _ := routing.NewHashResolver(271)
//	cc, _ := nearcache.New[string, User](nearcache.Options[string, User]{
//	    Name:          "users",
//	    Invoker:       inv,
//	    Resolver:      res,
//	    KeyCodec:      codec.String{},
//	    ValueCodec:    codec.JSON[User]{},
//	    NearCache:     true,
//	    CacheOnUpdate: true,
//	})
package nearcache
