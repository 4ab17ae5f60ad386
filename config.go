package extsort

const (
	defaultPageSize   = 4096
	defaultCachePages = 256 // cache_pages * page_size ~= 1MiB max_pma
	defaultFanout     = 16
	minWorkingPages   = 16 // policy choice, not an invariant
)

// Config holds the tunables for a Sorter. A zero Config is usable: every
// field is replaced with its default by NewSorter.
type Config struct {
	// PageSize is the I/O block size in bytes. Default 4096.
	PageSize int
	// CachePages sets max_pma = CachePages * PageSize. Default chosen so
	// max_pma is approximately 1MiB.
	CachePages int
	// WorkerBudget is the number of extra worker goroutines permitted.
	// Zero disables threading entirely.
	WorkerBudget int
	// MaxMmapBytes, if > 0, allows files up to this size to be memory
	// mapped whole when opened for reading.
	MaxMmapBytes int64
	// Fanout is the maximum number of child readers per MergeEngine,
	// 2..16. Default 16.
	Fanout int
	// Heap is an optional early-spill oracle.
	Heap HeapOracle
	// Trace, if set, receives printf-style diagnostic messages. Default
	// is a no-op.
	Trace func(format string, args ...any)
}

// DefaultConfig returns a Config with every tunable at its default value.
func DefaultConfig() Config {
	return Config{
		PageSize:   defaultPageSize,
		CachePages: defaultCachePages,
		Fanout:     defaultFanout,
	}
}

func (c *Config) setDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.CachePages <= 0 {
		c.CachePages = defaultCachePages
	}
	if c.Fanout <= 0 {
		c.Fanout = defaultFanout
	}
	if c.Fanout < 2 {
		c.Fanout = 2
	}
	if c.Fanout > 16 {
		c.Fanout = 16
	}
	if c.Trace == nil {
		c.Trace = func(string, ...any) {}
	}
}

func (c Config) maxPmaBytes() int64 {
	return int64(c.PageSize) * int64(c.CachePages)
}

func (c Config) minPmaBytes() int64 {
	return int64(minWorkingPages) * int64(c.PageSize)
}
