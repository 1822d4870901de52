package limiter

// Recorder receives limiter measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Add increments the counter name by value.
	Add(name string, value float64, tags map[string]string)
	// Observe records value in the distribution name.
	Observe(name string, value float64, tags map[string]string)
}

// NoopRecorder discards everything. It is the default, so the hot path never
// checks for a nil recorder.
type NoopRecorder struct{}

func (NoopRecorder) Add(string, float64, map[string]string)     {}
func (NoopRecorder) Observe(string, float64, map[string]string) {}
