// Package session keeps the in-memory set of connected client windows for each user
// and decides which of them is the main window.
//
// # Registry
//
// A Registry maps a user id to an ordered list of sessions, one per connected
// browser window. Insertion order is connection order and drives failover: when the
// main window disconnects, the oldest remaining window is promoted.
//
// All mutations for one user are serialized behind that user's lock. Different
// users never share a lock, so their operations proceed in parallel. Compound
// operations that must observe and mutate a user's sessions atomically run through
// Registry.Update, which hands the callback a locked *Set.
//
// # Delivery
//
// Events are handed to each session's Sender while the user's lock is held, so every
// session observes events in the order they were issued. A Sender must not block;
// transports queue events and write them from their own goroutine. Delivery to a
// closed transport is a silent no-op and never interrupts a broadcast.
package session
