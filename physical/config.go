package physical

// Config carries all engine tunables. Every knob is explicit so that a plan
// built from the same config and dataset is reproducible.
type Config struct {
	// Buckets is the fan-out of hash exchanges.
	Buckets int
	// Workers bounds concurrent partition scans.
	Workers int
	// BatchSize is the number of rows per materialized batch.
	BatchSize int64
	// MemoryBudgetBytes bounds buffered rows per exchange and per window sort
	// before spilling to the backing store.
	MemoryBudgetBytes int64
	// MaxRetries bounds re-executions of a failed partition task.
	MaxRetries int
	// SkewThreshold is the max/mean bucket row ratio above which the bucket
	// count of not-yet-started exchanges is revised at a stage boundary.
	SkewThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Buckets:           4,
		Workers:           4,
		BatchSize:         4 * 1024,
		MemoryBudgetBytes: 128 * 1024 * 1024,
		MaxRetries:        2,
		SkewThreshold:     4,
	}
}
