// Package kv provides a small Redis-like key-value abstraction with an
// in-memory backend and a go-redis backend.
//
// Backends register themselves from their package init, so callers import
// them for side effects and build a store from configuration:
//
//	import _ "github.com/argenta/argenta-backend/pkg/kv/memory"
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
// With BackendRedis the factory pings Redis at startup and wraps it in a
// FailoverStore that serves from memory while Redis is unreachable.
package kv
