package logging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Clock stamps events published without a time.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Sink persists routed events. Each sink is written from its own goroutine.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink registers a sink under the name used in Config.EnabledSinks.
type NamedSink struct {
	Name string
	Sink Sink
}

const (
	defaultQueueSize   = 512
	minLaneSize        = 32
	maxLaneSize        = 1024
	defaultDropWarn    = 5 * time.Second
	maxCooldownDoubles = 5
)

// Router carries battle, combat and network events from publishers to the
// configured sinks. Publish never blocks the battle machine or the hub: a
// full queue drops the event and counts it.
type Router struct {
	cfg      Config
	clock    Clock
	fallback *log.Logger
	fields   map[string]any
	queue    chan Event
	lanes    []*sinkLane
	done     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	forwarded    atomic.Uint64
	dropped      atomic.Uint64
	nextDropWarn atomic.Int64
}

// SinkStats counts what one sink did with the events routed to it.
type SinkStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// RouterStats is reported on the health endpoint.
type RouterStats struct {
	EventsTotal  uint64               `json:"eventsTotal"`
	DroppedTotal uint64               `json:"droppedTotal"`
	Sinks        map[string]SinkStats `json:"sinks,omitempty"`
}

// NewRouter starts dispatch right away. Sink names must be unique; nil sinks
// are skipped.
func NewRouter(clock Clock, cfg Config, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	queueSize := cfg.BufferSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Router{
		cfg:      cfg,
		clock:    clock,
		fallback: fallback,
		fields:   cfg.CloneFields(),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}

	laneSize := min(max(queueSize, minLaneSize), maxLaneSize)
	seen := make(map[string]struct{}, len(namedSinks))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		if _, dup := seen[named.Name]; dup {
			return nil, fmt.Errorf("logging: sink %q registered twice", named.Name)
		}
		seen[named.Name] = struct{}{}
		r.lanes = append(r.lanes, &sinkLane{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, laneSize),
			done:     r.done,
			fallback: fallback,
		})
	}

	r.wg.Add(1 + len(r.lanes))
	go r.dispatch()
	for _, lane := range r.lanes {
		go func(l *sinkLane) {
			defer r.wg.Done()
			l.run()
		}(lane)
	}
	return r, nil
}

// dispatch moves queued events into the sink lanes until Close, then flushes
// what is left and closes the lanes.
func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, lane := range r.lanes {
			close(lane.events)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.route(event)
		case <-r.done:
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.cfg.MinimumSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.forwarded.Add(1)
	for _, lane := range r.lanes {
		lane.offer(event)
	}
}

func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.warnDrop(event)
	}
}

// warnDrop logs at most one dropped event per DropWarnInterval.
func (r *Router) warnDrop(event Event) {
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = defaultDropWarn
	}
	now := r.clock.Now().UnixNano()
	next := r.nextDropWarn.Load()
	if next != 0 && now < next {
		return
	}
	if r.nextDropWarn.CompareAndSwap(next, now+interval.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping %s (round %d)", event.Type, event.Round)
	}
}

// Close stops accepting events, flushes the queue into the sinks and closes
// them. A failing sink does not hold Close up with its retry cooldown.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)
	flushed := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		return ctx.Err()
	}
	var errs []error
	for _, lane := range r.lanes {
		if err := lane.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", lane.name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.forwarded.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	if len(r.lanes) > 0 {
		stats.Sinks = make(map[string]SinkStats, len(r.lanes))
		for _, lane := range r.lanes {
			stats.Sinks[lane.name] = SinkStats{
				Written: lane.written.Load(),
				Dropped: lane.dropped.Load(),
				Failed:  lane.failed.Load(),
			}
		}
	}
	return stats
}

// Sink returns the sink registered under name, nil when there is none.
func (r *Router) Sink(name string) Sink {
	for _, lane := range r.lanes {
		if lane.name == name {
			return lane.sink
		}
	}
	return nil
}

// sinkLane buffers events for one sink. After a failed write the lane cools
// down for a doubling delay, up to 32s, before the next write.
type sinkLane struct {
	name     string
	sink     Sink
	events   chan Event
	done     <-chan struct{}
	fallback *log.Logger

	failures      int
	cooldownUntil time.Time

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func (l *sinkLane) offer(event Event) {
	select {
	case l.events <- cloneForFields(event):
	default:
		l.dropped.Add(1)
		l.fallback.Printf("sink %s backlog full, dropping %s (round %d)", l.name, event.Type, event.Round)
	}
}

func (l *sinkLane) run() {
	for event := range l.events {
		l.cooldown()
		if err := l.sink.Write(event); err != nil {
			l.failed.Add(1)
			if l.failures < maxCooldownDoubles {
				l.failures++
			}
			delay := time.Second << l.failures
			l.cooldownUntil = time.Now().Add(delay)
			l.fallback.Printf("sink %s failed: %v (retry in %s)", l.name, err, delay)
			continue
		}
		l.written.Add(1)
		l.failures = 0
	}
}

// cooldown waits out the retry delay. Shutdown cuts it short so queued events
// still get one attempt.
func (l *sinkLane) cooldown() {
	if l.failures == 0 {
		return
	}
	wait := time.Until(l.cooldownUntil)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-l.done:
	}
}
