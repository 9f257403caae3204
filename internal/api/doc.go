// Package api exposes the chat assistant over HTTP: synchronous and
// streamed chat, asynchronous chat jobs and a read-only view of the
// message bus.
package api
