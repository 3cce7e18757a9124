// Package registry is the authoritative in-memory catalog of services known
// to the platform together with their last-known health. It is the only
// component that owns mutable state shared between request handlers, the
// health monitor and the webhook hub, so every operation is synchronized
// and every read returns a copy.
//
// Storage is abstracted behind Store; the default memory store keeps
// insertion order so listings are stable.
package registry
