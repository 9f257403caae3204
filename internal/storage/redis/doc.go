// Package redis offers the response cache used by the market data sources.
// The Redis implementation is shared across daemon replicas; the in-memory
// implementation serves single-process deployments and tests.
package redis
