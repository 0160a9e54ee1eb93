// ABOUTME: Process-wide registry of per-conversation progress channels
// ABOUTME: Lazy get-or-create, best-effort publish, explicit completion and a cron-driven TTL sweep

package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/sourcing-gateway/internal/metrics"
)

const (
	// DefaultTTL bounds how long an abandoned channel may live.
	DefaultTTL = time.Hour

	// DefaultSweepInterval is how often expired channels are reaped.
	DefaultSweepInterval = 10 * time.Minute
)

// Config configures a Registry. Zero durations fall back to the defaults.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Registry owns one Channel per active conversation. The map is the only state
// shared between concurrent requests.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel

	ttl      time.Duration
	interval time.Duration

	scheduler *cron.Cron
	closed    bool

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRegistry creates an empty registry. Call Start to enable the sweep.
func NewRegistry(cfg Config) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]*Channel),
		ttl:      cfg.TTL,
		interval: cfg.SweepInterval,
		logger:   logger.With("component", "progress"),
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Acquire returns the conversation's channel, creating it on first use.
func (r *Registry) Acquire(conversationID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[conversationID]; ok {
		return ch
	}
	ch := newChannel(conversationID, r.now())
	r.channels[conversationID] = ch
	r.metrics.ChannelOpened()

	r.logger.Debug("progress channel created", "conversation_id", conversationID)
	return ch
}

// Publish enqueues an event for the conversation. Delivery is best-effort: a
// missing or completed channel drops the event and returns false.
func (r *Registry) Publish(conversationID string, ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}

	r.mu.Lock()
	ch, ok := r.channels[conversationID]
	r.mu.Unlock()

	if !ok || !ch.push(ev) {
		r.metrics.ProgressDropped()
		r.logger.Warn("dropped progress event, no open channel",
			"conversation_id", conversationID,
			"tool", ev.Tool,
			"status", ev.Status)
		return false
	}
	r.metrics.ProgressPublished()
	return true
}

// Complete closes the conversation's channel and forgets it. A reader still
// holding the channel drains remaining events before seeing ErrClosed.
// Completing an unknown id is a no-op.
func (r *Registry) Complete(conversationID string) {
	r.mu.Lock()
	ch, ok := r.channels[conversationID]
	if ok {
		delete(r.channels, conversationID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("complete on unknown progress channel", "conversation_id", conversationID)
		return
	}
	ch.close()
	r.metrics.ChannelClosed()
	r.logger.Debug("progress channel completed",
		"conversation_id", conversationID,
		"undelivered", ch.Len())
}

// SweepExpired completes every channel created more than ttl ago and returns
// how many were removed.
func (r *Registry) SweepExpired(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var expired []*Channel
	for id, ch := range r.channels {
		if ch.createdAt.Before(cutoff) {
			expired = append(expired, ch)
			delete(r.channels, id)
		}
	}
	r.mu.Unlock()

	for _, ch := range expired {
		ch.close()
		r.metrics.ChannelClosed()
	}
	r.metrics.ChannelsSwept(len(expired))

	if len(expired) > 0 {
		r.logger.Warn("swept abandoned progress channels", "count", len(expired), "ttl", ttl)
	}
	return len(expired)
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Start schedules SweepExpired on the configured interval.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("progress registry is closed")
	}
	if r.scheduler != nil {
		return nil
	}

	c := cron.New()
	schedule := "@every " + r.interval.String()
	if _, err := c.AddFunc(schedule, func() { r.SweepExpired(r.ttl) }); err != nil {
		return fmt.Errorf("scheduling progress sweep %q: %w", schedule, err)
	}
	c.Start()
	r.scheduler = c

	r.logger.Info("progress sweep scheduled", "interval", r.interval, "ttl", r.ttl)
	return nil
}

// Close stops the sweep and completes every remaining channel. Safe to call
// more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	scheduler := r.scheduler
	r.scheduler = nil
	remaining := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	for _, ch := range remaining {
		ch.close()
		r.metrics.ChannelClosed()
	}
	r.logger.Debug("progress registry closed", "completed", len(remaining))
}
