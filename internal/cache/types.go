package cache

// DefaultCapacity is the number of chunks kept when no capacity is configured.
const DefaultCapacity = 10

// Stats holds cache performance counters.
type Stats struct {
	Capacity int // Maximum number of entries
	Len      int // Current number of entries
	Bytes    int64

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64 // hits / (hits + misses)
}
