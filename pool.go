package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize       = 4
	DefaultAcquireTimeout = 5 * time.Second
	HealthCheckPeriod     = 60 * time.Second
	maxRecordedErrors     = 10
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// poolObserver receives pool events, satisfied by *metrics.Collectors.
type poolObserver interface {
	SetPoolInUse(n int)
	RecordPoolAcquire(waitMs float64, failed bool)
}

type ModelSessionPool struct {
	sessions       chan *ModelSession
	size           int
	newSession     func() (*ModelSession, error)
	acquireTimeout time.Duration
	observer       poolObserver
	log            *zap.Logger

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error
	done       chan struct{}

	metrics *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	totalDiscarded  int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is a copy of the pool counters safe to serialize.
type PoolStats struct {
	Size            int   `json:"pool_size"`
	InUse           int   `json:"sessions_in_use"`
	TotalAcquired   int64 `json:"total_acquired"`
	TotalReleased   int64 `json:"total_released"`
	TotalDiscarded  int64 `json:"total_discarded"`
	AcquireFailures int64 `json:"acquire_failures"`
}

type PoolOption func(*ModelSessionPool)

func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *ModelSessionPool) {
		if d > 0 {
			p.acquireTimeout = d
		}
	}
}

func WithPoolObserver(o poolObserver) PoolOption {
	return func(p *ModelSessionPool) { p.observer = o }
}

func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *ModelSessionPool) {
		if l != nil {
			p.log = l
		}
	}
}

// NewModelSessionPool creates size sessions up front with newSession and
// starts the replenish loop.
func NewModelSessionPool(newSession func() (*ModelSession, error), size int, opts ...PoolOption) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &ModelSessionPool{
		sessions:       make(chan *ModelSession, size),
		size:           size,
		newSession:     newSession,
		acquireTimeout: DefaultAcquireTimeout,
		log:            zap.NewNop(),
		done:           make(chan struct{}),
		metrics:        &PoolMetrics{},
	}
	for _, opt := range opts {
		opt(pool)
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	failed := false
	defer func() {
		wait := time.Since(start)
		p.metrics.mu.Lock()
		p.metrics.waitTime += wait
		p.metrics.mu.Unlock()
		if p.observer != nil {
			p.observer.RecordPoolAcquire(float64(wait.Microseconds())/1000, failed)
		}
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		inUse := p.metrics.inUse
		p.metrics.mu.Unlock()
		p.observeInUse(inUse)
		return session, nil
	case <-timer.C:
		failed = true
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session *ModelSession) {
	inUse := p.checkIn(func(m *PoolMetrics) { m.totalReleased++ })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.live--
		session.Destroy()
		return
	}
	p.sessions <- session
	p.observeInUse(inUse)
}

// Discard destroys a checked-out session instead of returning it. The
// health check creates a replacement.
func (p *ModelSessionPool) Discard(session *ModelSession) {
	inUse := p.checkIn(func(m *PoolMetrics) { m.totalDiscarded++ })
	session.Destroy()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	p.observeInUse(inUse)
}

func (p *ModelSessionPool) checkIn(count func(*PoolMetrics)) int {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()
	p.metrics.inUse--
	count(p.metrics)
	return p.metrics.inUse
}

func (p *ModelSessionPool) observeInUse(n int) {
	if p.observer != nil {
		p.observer.SetPoolInUse(n)
	}
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	// Destroy all idle sessions; checked-out ones go on Release
	for session := range p.sessions {
		p.live--
		session.Destroy()
	}
}

func (p *ModelSessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish recreates sessions lost through Discard.
func (p *ModelSessionPool) replenish() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.newSession()
		if err != nil {
			p.recordError(err)
			p.log.Warn("failed to replenish model session", zap.Error(err))
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
		p.mu.Unlock()
	}
}

func (p *ModelSessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelSessionPool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.lastErrors...)
}

func (p *ModelSessionPool) Stats() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		TotalDiscarded:  p.metrics.totalDiscarded,
		AcquireFailures: p.metrics.acquireFailures,
	}
}
