// Package cache provides a two-tier store for expensive artifacts such as
// transcriptions and analysis results. It combines a bounded in-memory LRU
// tier with a durable on-disk tier, per-category TTL expiration, and
// pressure-driven eviction.
package cache
