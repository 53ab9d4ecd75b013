package connpool

import (
	"context"
	"fmt"

	"github.com/yuku/connpool/internal/handle"
	"github.com/yuku/connpool/internal/pool"
	"go.uber.org/zap"
)

// Pool is a bounded pool of native connections for synchronous callers.
// Checkout blocks the calling goroutine; see AsyncPool for context-driven
// callers that must not block on pool waits.
type Pool struct {
	cfg    Config
	pool   *pool.Pool[*handle.Connection]
	logger *zap.Logger

	// stopMaintenance stops the background maintenance loop, if any.
	stopMaintenance context.CancelFunc
	maintenanceDone chan struct{}
}

// New creates a pool and eagerly opens cfg.MinSize connections. If any of
// them fails to open, the others are closed and the error is returned.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	o := newOptions(opts)

	eng := cfg.engine()
	path := cfg.path()
	logger := o.logger.With(zap.String("engine", eng.Name()))

	hooks := pool.Hooks[*handle.Connection]{
		Create: func() (*handle.Connection, error) {
			return handle.Open(eng, path, handle.WithLogger(logger), handle.WithObserver(o.obs))
		},
		Recycle: func(c *handle.Connection) bool {
			c.Reset()
			return !c.Broken() && !c.Closed()
		},
		Inspect: func(c *handle.Connection) {
			if _, err := c.DatabaseSize(); err != nil {
				logger.Debug("failed to sample database size", zap.Error(err))
			}
		},
	}
	if probe := cfg.ValidationProbe; probe != "" {
		hooks.Validate = func(c *handle.Connection) error {
			return c.Validate(probe)
		}
	}

	inner, err := pool.New(cfg.poolConfig(), hooks, pool.WithLogger(logger), pool.WithObserver(o.obs))
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	p := &Pool{cfg: cfg, pool: inner, logger: logger}
	if cfg.MaintenanceInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		p.stopMaintenance = cancel
		p.maintenanceDone = make(chan struct{})
		go func() {
			defer close(p.maintenanceDone)
			inner.RunMaintenance(ctx, cfg.MaintenanceInterval)
		}()
	}
	return p, nil
}

// Config returns the pool's configuration.
func (p *Pool) Config() Config {
	return p.cfg
}

// Checkout returns a guard over an exclusively held connection. It blocks
// until a connection is available, the checkout timeout elapses
// (ErrCheckoutTimeout) or ctx is done.
func (p *Pool) Checkout(ctx context.Context) (*Guard, error) {
	g, err := p.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	return &Guard{guard: g}, nil
}

// Maintain closes expired idle connections, opens new ones until the pool
// holds at least MinSize connections and samples the database size through
// one idle connection.
func (p *Pool) Maintain() MaintainResult {
	return p.pool.Maintain()
}

// Stats returns a consistent snapshot of the pool.
func (p *Pool) Stats() Stats {
	return p.pool.Stats()
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.pool.Closed()
}

// Close closes every idle connection and fails waiting checkouts with
// ErrPoolClosed. Checked out connections are closed when their guards are
// released. It is safe to call Close multiple times.
func (p *Pool) Close() error {
	if p.stopMaintenance != nil {
		p.stopMaintenance()
		<-p.maintenanceDone
	}
	p.pool.Close()
	return nil
}
