package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	EnablePprofTrace bool
	EnableMetrics    bool
}

// Default enables the metrics endpoint and leaves profiling off.
func Default() Config {
	return Config{EnableMetrics: true}
}
