// Package renderpool bounds concurrent browser use with a fixed set of
// render slots. Sessions are created lazily on first acquire and
// recycled after a page budget or a crash, so one wedged browser never
// poisons the pool.
package renderpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/metrics"
	"github.com/reviewlens/reviewlens/internal/scraper"
)

// Session is a checked-out render slot. It is owned by a single job
// between Acquire and Release.
type Session struct {
	renderer scraper.Renderer
	pages    int
}

// Render renders url through the session's browser and counts the page
// against the recycle budget.
func (s *Session) Render(ctx context.Context, url string) (string, error) {
	html, err := s.renderer.Render(ctx, url)
	s.pages++
	return html, err
}

// Pages reports how many renders this session has served.
func (s *Session) Pages() int {
	return s.pages
}

// Pool hands out at most capacity concurrent Sessions.
type Pool struct {
	factory      scraper.RendererFactory
	recycleAfter int
	acquireWait  time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu     sync.Mutex
	closed bool
	slots  chan *Session
}

// New creates a Pool of the given capacity. Sessions are recycled once
// they have served recycleAfter pages. Acquire waits at most
// acquireWait for a free slot.
func New(factory scraper.RendererFactory, capacity, recycleAfter int, acquireWait time.Duration, logger *zap.Logger, m *metrics.Metrics) *Pool {
	slots := make(chan *Session, capacity)
	for i := 0; i < capacity; i++ {
		slots <- nil
	}
	return &Pool{
		factory:      factory,
		recycleAfter: recycleAfter,
		acquireWait:  acquireWait,
		logger:       logger,
		metrics:      m,
		slots:        slots,
	}
}

// Acquire checks out a Session, creating its browser on first use.
// It fails with ErrPoolExhausted when no slot frees up within the
// pool's acquire window, or earlier if ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	timer := time.NewTimer(p.acquireWait)
	defer timer.Stop()

	select {
	case s := <-p.slots:
		if s == nil {
			renderer, err := p.factory.NewRenderer(ctx)
			if err != nil {
				p.slots <- nil
				return nil, fmt.Errorf("create render session: %w", err)
			}
			s = &Session{renderer: renderer}
		}
		p.metrics.IncActiveSessions()
		return s, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", scraper.ErrPoolExhausted, ctx.Err())
	case <-timer.C:
		return nil, fmt.Errorf("%w: no slot within %s", scraper.ErrPoolExhausted, p.acquireWait)
	}
}

// Release returns a Session to the pool. Crashed sessions and sessions
// past their page budget are closed; the freed slot recreates its
// browser on the next Acquire.
func (p *Pool) Release(s *Session, crashed bool) {
	p.metrics.DecActiveSessions()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if crashed || s.pages >= p.recycleAfter || closed {
		if err := s.renderer.Close(); err != nil {
			p.logger.Warn("close render session", zap.Error(err))
		}
		if !closed {
			p.slots <- nil
		}
		return
	}
	p.slots <- s
}

// Close shuts down the pool, closing every idle session. Sessions still
// checked out are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case s := <-p.slots:
			if s != nil {
				if err := s.renderer.Close(); err != nil {
					p.logger.Warn("close render session", zap.Error(err))
				}
			}
		default:
			return
		}
	}
}
