// Package memory provides the read/append facade behind core.Memory and the
// concrete message stores it fronts. Depend on core.Memory in your code and
// select a Store (in-memory, SQLite, or an adapter over a framework's native
// memory) at wiring time.
//
// The store is the source of truth. Facade never caches: every Read goes to
// the store, and appends to one session key are serialized by a per-session
// lock whose acquisition honours context cancellation.
package memory
