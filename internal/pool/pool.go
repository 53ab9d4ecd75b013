// Package pool implements a bounded pool of blocking, non-reentrant
// resources with lifetime and idle expiry, validation on checkout and a
// notify-one handoff between releasing and waiting holders.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/yuku/connpool/internal/errs"
	"github.com/yuku/connpool/internal/metrics"
	"github.com/yuku/connpool/internal/waitqueue"
	"go.uber.org/zap"
)

// Resource is anything the pool can finalize.
type Resource interface {
	Close() error
}

// Hooks tie the pool to a concrete resource type.
type Hooks[T Resource] struct {
	// Create opens a new resource. Required.
	Create func() (T, error)

	// Validate checks an idle resource before it is handed out again.
	// Optional.
	Validate func(T) error

	// Recycle prepares a returned resource for its next holder and reports
	// whether it can be reused. Optional.
	Recycle func(T) bool

	// Inspect is called by Maintain with one idle resource held
	// exclusively, e.g. to sample engine state. Optional.
	Inspect func(T)
}

// Config bounds the pool.
type Config struct {
	// MinSize is the number of resources created eagerly and restored by
	// Maintain.
	MinSize int

	// MaxSize bounds checked out plus idle resources.
	MaxSize int

	// CheckoutTimeout bounds how long Checkout waits for a resource.
	CheckoutTimeout time.Duration

	// MaxLifetime is the maximum age of a resource. Zero disables it.
	MaxLifetime time.Duration

	// MaxIdleTime is the maximum time a resource may sit idle. Zero
	// disables it.
	MaxIdleTime time.Duration
}

func (c Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("max size must be at least 1: given %d", c.MaxSize)
	}
	if c.MinSize < 0 || c.MinSize > c.MaxSize {
		return fmt.Errorf("min size must be between 0 and max size %d: given %d", c.MaxSize, c.MinSize)
	}
	if c.CheckoutTimeout <= 0 {
		return fmt.Errorf("checkout timeout must be positive: given %s", c.CheckoutTimeout)
	}
	if c.MaxLifetime < 0 {
		return fmt.Errorf("max lifetime cannot be negative: given %s", c.MaxLifetime)
	}
	if c.MaxIdleTime < 0 {
		return fmt.Errorf("max idle time cannot be negative: given %s", c.MaxIdleTime)
	}
	return nil
}

// Stats is a consistent snapshot of the pool.
type Stats struct {
	Active  int
	Idle    int
	Waiting int

	CreatedTotal       uint64
	DestroyedTotal     uint64
	CheckoutsTotal     uint64
	TimeoutsTotal      uint64
	ValidationFailures uint64
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	logger *zap.Logger
	obs    metrics.Observer
	now    func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs metrics.Observer) Option {
	return func(o *options) {
		o.obs = obs
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type entry[T Resource] struct {
	res        T
	createdAt  time.Time
	lastUsedAt time.Time
}

// Pool is a bounded pool of resources of type T.
type Pool[T Resource] struct {
	cfg    Config
	hooks  Hooks[T]
	logger *zap.Logger
	obs    metrics.Observer
	now    func() time.Time

	// waiters is locked after mu when both are held.
	waiters waitqueue.Queue

	mu      sync.Mutex
	idle    []*entry[T]
	active  int
	pending int
	closed  bool
	stats   Stats
}

// New creates a pool and eagerly opens cfg.MinSize resources. If any of them
// fails, the ones already opened are finalized and the error is returned.
func New[T Resource](cfg Config, hooks Hooks[T], opts ...Option) (*Pool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	if hooks.Create == nil {
		return nil, fmt.Errorf("invalid pool configuration: create hook cannot be nil")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	p := &Pool[T]{
		cfg:    cfg,
		hooks:  hooks,
		logger: o.logger.With(zap.String("component", "pool")),
		obs:    metrics.OrNop(o.obs),
		now:    o.now,
	}

	for range cfg.MinSize {
		e, err := p.create()
		if err != nil {
			for _, e := range p.idle {
				p.finalize(e)
			}
			return nil, fmt.Errorf("failed to create initial resources: %w", err)
		}
		p.idle = append(p.idle, e)
	}

	p.logger.Debug("pool created",
		zap.Int("min_size", cfg.MinSize),
		zap.Int("max_size", cfg.MaxSize),
	)
	p.emit(p.Stats())
	return p, nil
}

// Config returns the pool's configuration.
func (p *Pool[T]) Config() Config {
	return p.cfg
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool[T]) statsLocked() Stats {
	s := p.stats
	s.Active = p.active
	s.Idle = len(p.idle)
	s.Waiting = p.waiters.Len()
	return s
}

// Closed reports whether Close has been called.
func (p *Pool[T]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close finalizes every idle resource and fails current and future waiters
// with errs.ErrPoolClosed. Resources still checked out are finalized when
// their guards are released. Close is idempotent.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.stats.DestroyedTotal += uint64(len(idle))
	woken := p.waiters.NotifyAll()
	stats := p.statsLocked()
	p.mu.Unlock()

	for _, e := range idle {
		p.finalize(e)
	}
	p.logger.Debug("pool closed",
		zap.Int("finalized", len(idle)),
		zap.Int("woken_waiters", woken),
		zap.Int("active", stats.Active),
	)
	p.emit(stats)
}

// create opens one resource. The caller must have reserved a slot.
func (p *Pool[T]) create() (*entry[T], error) {
	res, err := p.hooks.Create()
	if err != nil {
		p.logger.Warn("failed to create resource", zap.Error(err))
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.Wrap(errs.KindConnectionFailed, "create", err)
		}
		return nil, err
	}
	now := p.now()

	p.mu.Lock()
	p.stats.CreatedTotal++
	p.mu.Unlock()

	return &entry[T]{res: res, createdAt: now, lastUsedAt: now}, nil
}

func (p *Pool[T]) finalize(e *entry[T]) {
	if err := e.res.Close(); err != nil {
		p.logger.Warn("failed to close resource", zap.Error(err))
	}
}

func (p *Pool[T]) total() int {
	return p.active + p.pending + len(p.idle)
}

func (p *Pool[T]) lifetimeExpired(e *entry[T], now time.Time) bool {
	return p.cfg.MaxLifetime > 0 && now.Sub(e.createdAt) > p.cfg.MaxLifetime
}

func (p *Pool[T]) expired(e *entry[T], now time.Time) bool {
	if p.lifetimeExpired(e, now) {
		return true
	}
	return p.cfg.MaxIdleTime > 0 && now.Sub(e.lastUsedAt) > p.cfg.MaxIdleTime
}

func (p *Pool[T]) emit(s Stats) {
	p.obs.PoolUpdated(s.Active, s.Idle, s.Waiting)
}
