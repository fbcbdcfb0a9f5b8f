// Package cache provides the bounded in-memory LRU that holds synthesized
// audio per chunk index for the lifetime of an audio host.
package cache
