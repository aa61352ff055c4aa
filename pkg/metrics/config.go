package metrics

// Config holds configuration for the metrics provider
type Config struct {
	// Namespace is an optional prefix for all metric names
	Namespace string

	// HTTPRequestBuckets defines histogram buckets for HTTP request duration (in seconds)
	HTTPRequestBuckets []float64

	// FanoutBuckets defines histogram buckets for subscribers reached per message
	FanoutBuckets []float64
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills in any missing values with defaults
func (c *Config) ApplyDefaults() {
	if len(c.HTTPRequestBuckets) == 0 {
		c.HTTPRequestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	}
	if len(c.FanoutBuckets) == 0 {
		c.FanoutBuckets = []float64{0, 1, 2, 5, 10, 25, 50, 100, 250}
	}
}
