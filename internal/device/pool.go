package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/callscreen/internal/automation"
	"github.com/kursadbilgin/callscreen/internal/domain"
	"github.com/kursadbilgin/callscreen/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultQuarantineThreshold = 3
	defaultIdleThreshold       = 5 * time.Minute
	defaultReclaimInterval     = 60 * time.Second
	defaultAcquireTimeout      = 60 * time.Second
	sessionCloseTimeout        = 10 * time.Second
)

var (
	errStaleLease       = errors.New("lease already ended")
	errSessionAbandoned = errors.New("session creation abandoned by caller")
)

// Options configures a Pool. IdleThreshold bounds both how long an available
// session is kept warm and how long a quarantined device sits out.
// AcquireTimeout applies when Acquire is called without a timeout.
type Options struct {
	Capacity            int
	QuarantineThreshold int
	IdleThreshold       time.Duration
	ReclaimInterval     time.Duration
	AcquireTimeout      time.Duration
}

// Pool leases a fixed set of devices in FIFO order.
//
// Every available handle sits in queue exactly once. Busy, quarantined and
// offline handles are in no queue.
type Pool struct {
	mu      sync.Mutex
	handles []*Handle
	queue   chan *Handle
	done    chan struct{}
	closed  bool

	factory automation.SessionFactory
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Stats summarizes the pool by device status.
type Stats struct {
	Capacity int                         `json:"capacity"`
	Queued   int                         `json:"queued"`
	ByStatus map[domain.DeviceStatus]int `json:"by_status"`
	Devices  []HandleInfo                `json:"devices"`
}

func NewPool(factory automation.SessionFactory, opts Options, logger *zap.Logger) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: pool capacity must be positive (got %d)", domain.ErrValidation, opts.Capacity)
	}
	if opts.QuarantineThreshold <= 0 {
		opts.QuarantineThreshold = defaultQuarantineThreshold
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = defaultIdleThreshold
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = defaultReclaimInterval
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		handles: make([]*Handle, opts.Capacity),
		queue:   make(chan *Handle, opts.Capacity),
		done:    make(chan struct{}),
		factory: factory,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
	for i := range p.handles {
		h := &Handle{
			id:     domain.DeviceID(i),
			slot:   i,
			status: domain.DeviceAvailable,
		}
		p.handles[i] = h
		p.queue <- h
	}

	return p, nil
}

func (p *Pool) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = metrics
	p.publishLocked()
}

func (p *Pool) Capacity() int { return len(p.handles) }

// Acquire leases the longest-waiting available device, creating its session on
// first use. It fails with domain.ErrResourceExhausted if nothing frees up
// within timeout and with domain.ErrDeviceFault if the session cannot be opened.
// A non-positive timeout falls back to Options.AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = p.opts.AcquireTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var h *Handle
	select {
	case h = <-p.queue:
	case <-p.done:
		return nil, fmt.Errorf("%w: device pool is closed", domain.ErrResourceExhausted)
	case <-waitCtx.Done():
		return nil, fmt.Errorf("%w: no device available within %s: %w", domain.ErrResourceExhausted, timeout, waitCtx.Err())
	}

	p.mu.Lock()
	if p.closed {
		h.status = domain.DeviceOffline
		p.publishLocked()
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: device pool is closed", domain.ErrResourceExhausted)
	}
	h.status = domain.DeviceBusy
	h.lease++
	h.lastUsedAt = p.now()
	lease := &Lease{handle: h, generation: h.lease}
	needsSession := h.session == nil
	p.publishLocked()
	p.mu.Unlock()

	if !needsSession {
		return lease, nil
	}

	session, err := p.factory.NewSession(ctx, h.slot)
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Caller cancellation is not a device fault.
		p.logger.Info("device session creation canceled",
			zap.String("deviceId", h.id),
			zap.Error(err),
		)
		_ = p.endLease(lease, errSessionAbandoned)
		return nil, fmt.Errorf("%w: session creation on %s canceled: %w", domain.ErrResourceExhausted, h.id, err)
	}
	if err != nil {
		p.logger.Error("device session creation failed",
			zap.String("deviceId", h.id),
			zap.Error(err),
		)
		_ = p.endLease(lease, err)
		return nil, fmt.Errorf("%w: failed to open session on %s: %w", domain.ErrDeviceFault, h.id, err)
	}

	p.mu.Lock()
	h.session = session
	p.mu.Unlock()

	return lease, nil
}

// Release returns a cleanly finished lease to the back of the queue.
func (p *Pool) Release(lease *Lease) error {
	return p.endLease(lease, nil)
}

// ReportError ends a lease that hit a device fault. The device is quarantined
// once it reaches the consecutive error threshold.
func (p *Pool) ReportError(lease *Lease, reason error) error {
	if reason == nil {
		reason = errors.New("unspecified device error")
	}
	return p.endLease(lease, reason)
}

func (p *Pool) endLease(lease *Lease, fault error) error {
	if lease == nil || lease.handle == nil {
		return fmt.Errorf("%w: lease is required", domain.ErrValidation)
	}

	h := lease.handle

	p.mu.Lock()
	if h.status != domain.DeviceBusy || h.lease != lease.generation {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", domain.ErrConflict, h.id, errStaleLease)
	}
	h.lease++
	h.lastUsedAt = p.now()

	var detached automation.Session
	switch {
	case p.closed:
		h.status = domain.DeviceOffline
		detached, h.session = h.session, nil
	case fault == nil:
		h.consecutiveErrors = 0
		h.status = domain.DeviceAvailable
		p.queue <- h
	case errors.Is(fault, errSessionAbandoned):
		h.status = domain.DeviceAvailable
		p.queue <- h
	default:
		h.consecutiveErrors++
		if h.consecutiveErrors >= p.opts.QuarantineThreshold {
			h.status = domain.DeviceErrorQuarantined
			detached, h.session = h.session, nil
			p.metrics.IncDeviceQuarantined()
			p.logger.Warn("device quarantined",
				zap.String("deviceId", h.id),
				zap.Int("consecutiveErrors", h.consecutiveErrors),
				zap.Error(fault),
			)
		} else {
			h.status = domain.DeviceAvailable
			p.queue <- h
			p.logger.Warn("device error reported",
				zap.String("deviceId", h.id),
				zap.Int("consecutiveErrors", h.consecutiveErrors),
				zap.Error(fault),
			)
		}
	}
	p.publishLocked()
	p.mu.Unlock()

	p.closeSessions(detached)
	return nil
}

// HealthSnapshot maps device ids to whether they can currently serve checks.
func (p *Pool) HealthSnapshot() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]bool, len(p.handles))
	for _, h := range p.handles {
		out[h.id] = h.status.IsHealthy()
	}
	return out
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		Capacity: len(p.handles),
		Queued:   len(p.queue),
		ByStatus: make(map[domain.DeviceStatus]int, 4),
		Devices:  make([]HandleInfo, 0, len(p.handles)),
	}
	for _, h := range p.handles {
		stats.ByStatus[h.status]++
		stats.Devices = append(stats.Devices, h.info())
	}
	return stats
}

// Start runs the reclaimer until ctx is canceled.
func (p *Pool) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(p.opts.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-ticker.C:
			p.reclaim(ctx)
		}
	}
}

// reclaim tears down sessions idle past the threshold and reinstates
// quarantined devices that have sat out long enough.
func (p *Pool) reclaim(ctx context.Context) {
	now := p.now()
	var detached []automation.Session

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for _, h := range p.handles {
		switch h.status {
		case domain.DeviceAvailable:
			if h.session != nil && now.Sub(h.lastUsedAt) > p.opts.IdleThreshold {
				detached = append(detached, h.session)
				h.session = nil
				p.logger.Info("idle device session reclaimed", zap.String("deviceId", h.id))
			}
		case domain.DeviceErrorQuarantined:
			if now.Sub(h.lastUsedAt) > p.opts.IdleThreshold {
				h.consecutiveErrors = 0
				h.status = domain.DeviceAvailable
				p.queue <- h
				p.logger.Info("quarantined device reinstated", zap.String("deviceId", h.id))
			}
		}
	}
	p.publishLocked()
	p.mu.Unlock()

	if ctx.Err() == nil {
		p.closeSessions(detached...)
	}
}

// Close marks every device offline and tears down idle sessions. Sessions on
// busy devices are torn down when their lease ends.
func (p *Pool) Close(ctx context.Context) error {
	var detached []automation.Session

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
drain:
	for {
		select {
		case <-p.queue:
		default:
			break drain
		}
	}
	for _, h := range p.handles {
		if h.status == domain.DeviceBusy {
			continue
		}
		h.status = domain.DeviceOffline
		if h.session != nil {
			detached = append(detached, h.session)
			h.session = nil
		}
	}
	p.publishLocked()
	p.mu.Unlock()

	var errs []error
	for _, s := range detached {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) closeSessions(sessions ...automation.Session) {
	for _, s := range sessions {
		if s == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		if err := s.Close(ctx); err != nil {
			p.logger.Warn("failed to close device session",
				zap.String("sessionId", s.ID()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (p *Pool) publishLocked() {
	if p.metrics == nil {
		return
	}
	counts := map[domain.DeviceStatus]int{
		domain.DeviceAvailable:        0,
		domain.DeviceBusy:             0,
		domain.DeviceErrorQuarantined: 0,
		domain.DeviceOffline:          0,
	}
	for _, h := range p.handles {
		counts[h.status]++
	}
	for status, n := range counts {
		p.metrics.SetDevicePoolStatus(status.String(), n)
	}
}
