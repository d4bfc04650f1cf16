package wall

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Status is the debounced stream status.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
)

func (s Status) String() string {
	if s == StatusOffline {
		return "offline"
	}
	return "online"
}

// MonitorOptions tunes a Monitor. Zero values take the defaults.
type MonitorOptions struct {
	// Interval between checks (default 15s).
	Interval time.Duration
	// InitialDelay before the first check (default 5s).
	InitialDelay time.Duration
	// OfflineThreshold is the number of consecutive offline-looking
	// observations needed before Offline is signalled (default 3).
	OfflineThreshold int
	// Initial is the status the monitor starts in.
	Initial Status
	Logger  *slog.Logger
}

func (o MonitorOptions) withDefaults() MonitorOptions {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 5 * time.Second
	}
	if o.OfflineThreshold <= 0 {
		o.OfflineThreshold = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Monitor turns a Handle's raw playback state into a stable online/offline
// signal. A stream buffering between segments looks offline for a moment, so
// Offline needs several consecutive observations; Online is immediate.
type Monitor struct {
	opts MonitorOptions
	log  *slog.Logger

	// mu is held while listeners run so transitions are delivered in order.
	// Listeners must not call back into the Monitor.
	mu        sync.Mutex
	status    Status
	misses    int
	listeners []func(Status)
}

// NewMonitor returns a Monitor in opts.Initial status.
func NewMonitor(opts MonitorOptions) *Monitor {
	opts = opts.withDefaults()
	return &Monitor{
		opts:   opts,
		log:    opts.Logger.With(slog.String("component", "stream_status")),
		status: opts.Initial,
	}
}

// OnStatusChange registers fn to be called once per actual transition.
func (m *Monitor) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns the current debounced status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Observe polls h until the returned cancel func is called or ctx is done.
// Cancel stops polling immediately and returns once no check is running.
func (m *Monitor) Observe(ctx context.Context, h Handle) (cancel func()) {
	ctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		delay := time.NewTimer(m.opts.InitialDelay)
		defer delay.Stop()
		select {
		case <-ctx.Done():
			return
		case <-delay.C:
		}
		m.Check(ctx, h)

		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx, h)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
		})
	}
}

// Check performs one observation of h. A failed query is inconclusive and
// leaves both the status and the debounce counter untouched.
func (m *Monitor) Check(ctx context.Context, h Handle) {
	pb, err := h.Playback(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		m.log.Warn("could not check player status", slog.Any("err", err))
		return
	}
	m.observe(pb.LooksOffline())
}

// MarkOnline is the fast path for an unambiguous native play or ready event.
func (m *Monitor) MarkOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses = 0
	m.setLocked(StatusOnline)
}

func (m *Monitor) observe(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !offline {
		m.misses = 0
		m.setLocked(StatusOnline)
		return
	}
	m.misses++
	m.log.Debug("offline check", slog.Int("count", m.misses), slog.Int("threshold", m.opts.OfflineThreshold))
	if m.misses >= m.opts.OfflineThreshold {
		m.setLocked(StatusOffline)
	}
}

func (m *Monitor) setLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.log.Info("stream status changed", slog.String("status", s.String()))
	for _, fn := range m.listeners {
		fn(s)
	}
}
