// Package telemetry mirrors each cycler's published databases to external
// subscribers, best-effort. Delivery never blocks a cycler: a subscriber that
// cannot keep up loses frames, not the robot.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/striderobotics/cyclekit/internal/logging"
	"github.com/striderobotics/cyclekit/internal/monitoring"
	"github.com/striderobotics/cyclekit/internal/types"
)

// Frame is one cycle's database as delivered to subscribers.
type Frame struct {
	Cycler    string         `json:"cycler"`
	Tick      uint64         `json:"tick"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// Publisher owns one stream per registered cycler.
type Publisher struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	logger  *logging.Logger
	metrics *monitoring.Metrics
	maxRate rate.Limit // per-subscriber frame rate cap, 0 disables
}

// Config configures the publisher.
type Config struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// MaxFrameRate caps frames per second delivered to each subscriber.
	// Zero means uncapped.
	MaxFrameRate float64
}

// NewPublisher creates an empty publisher.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Publisher{
		streams: make(map[string]*Stream),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		maxRate: rate.Limit(cfg.MaxFrameRate),
	}
}

// Register creates the stream for a cycler. Called once per cycler at
// startup.
func (p *Publisher) Register(cycler string) *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.streams[cycler]; ok {
		return s
	}
	s := &Stream{
		cycler:    cycler,
		publisher: p,
		subs:      make(map[string]*Subscriber),
	}
	p.streams[cycler] = s
	return s
}

// Stream returns a registered cycler's stream.
func (p *Publisher) Stream(cycler string) (*Stream, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.streams[cycler]
	return s, ok
}

// Cyclers lists registered cycler names, sorted.
func (p *Publisher) Cyclers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.streams))
	for name := range p.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stream fans one cycler's frames out to its subscribers.
type Stream struct {
	cycler    string
	publisher *Publisher

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// Offer hands a published database to every subscriber. It runs on the
// cycler's tick goroutine and never blocks: each subscriber holds a one-slot
// mailbox that newer frames simply overwrite.
func (s *Stream) Offer(db *types.Database) {
	frame := &Frame{
		Cycler:    db.Cycler,
		Tick:      db.Tick,
		Timestamp: db.Timestamp,
		Fields:    db.Fields(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if undelivered := sub.latest.Swap(frame); undelivered != nil {
			if s.publisher.metrics != nil {
				s.publisher.metrics.FramesDropped.WithLabelValues(s.cycler).Inc()
			}
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Subscribe attaches a new subscriber to the stream.
func (s *Stream) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		stream: s,
		notify: make(chan struct{}, 1),
	}
	if s.publisher.maxRate > 0 {
		sub.limiter = rate.NewLimiter(s.publisher.maxRate, 1)
	}

	s.mu.Lock()
	s.subs[sub.ID] = sub
	count := len(s.subs)
	s.mu.Unlock()

	if s.publisher.metrics != nil {
		s.publisher.metrics.SubscribersActive.WithLabelValues(s.cycler).Set(float64(count))
	}
	return sub
}

// Unsubscribe detaches a subscriber.
func (s *Stream) Unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	count := len(s.subs)
	s.mu.Unlock()

	if s.publisher.metrics != nil {
		s.publisher.metrics.SubscribersActive.WithLabelValues(s.cycler).Set(float64(count))
	}
}

// Subscriber receives frames in non-decreasing tick order with no
// duplicates; gaps appear whenever it falls behind the producing cycler.
type Subscriber struct {
	ID     string
	stream *Stream

	latest  atomic.Pointer[Frame]
	notify  chan struct{}
	limiter *rate.Limiter
}

// Next blocks until a frame is available or the context ends. A subscriber
// that was paused receives only the most recent frame, never a backlog.
func (sub *Subscriber) Next(ctx context.Context) (*Frame, error) {
	for {
		if frame := sub.latest.Swap(nil); frame != nil {
			if sub.limiter != nil {
				if err := sub.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			return frame, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sub.notify:
		}
	}
}

// Close detaches the subscriber from its stream.
func (sub *Subscriber) Close() {
	sub.stream.Unsubscribe(sub.ID)
}
