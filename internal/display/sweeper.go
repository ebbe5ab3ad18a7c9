package display

import (
	"sync"
	"time"
)

// DefaultSweepInterval is how often displays drop expired strikes.
const DefaultSweepInterval = 100 * time.Millisecond

// Sweeper periodically expires strikes in the mirror and hands the resulting
// view to Render.
type Sweeper struct {
	mirror   *Mirror
	resolver Resolver
	interval time.Duration
	now      func() time.Time
	render   func(View)

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

type SweeperConfig struct {
	Interval time.Duration
	Now      func() time.Time
	// Render receives the resolved view after every sweep. May be nil.
	Render func(View)
}

func NewSweeper(mirror *Mirror, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sweeper{mirror: mirror, interval: cfg.Interval, now: cfg.Now, render: cfg.Render}
}

// SweepOnce expires strikes at the current instant and returns the view.
func (s *Sweeper) SweepOnce() View {
	s.mirror.Sweep(s.now())
	view := s.resolver.Resolve(s.mirror.Snapshot())
	if s.render != nil {
		s.render(view)
	}
	return view
}

// Start launches the sweep loop. Calling it while running is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Sweeper) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
