// Package routing holds the immutable rule tables of the edge router and the
// pure functions evaluated against them: the request classifier that picks the
// static or dynamic origin, the ordered legacy redirect table, and the proxied
// script catalog lookup. Nothing in this package performs I/O, so every rule
// can be exercised with plain table tests.
package routing
