package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/dexfeed/internal/clock"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/transport"
	"go.uber.org/zap"
)

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll period, fixed for the poller's lifetime
}

// Runner is the type-erased lifecycle surface adapters expose to their owner.
type Runner interface {
	Name() string
	Interval() time.Duration
	Start(ctx context.Context)
	Stop()
	Fetch(ctx context.Context, force bool) Result
	Wait(ctx context.Context) error
	Polling() bool
}

type options struct {
	clock     clock.Clock
	logger    *zap.Logger
	observers Observers
}

// Option configures a Poller
type Option func(*options)

// WithClock sets the scheduling clock (default: real time)
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used for cycle results
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver adds an observer for cycle results
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// Poller periodically runs the fetch-cast-deliver cycle for one feed.
type Poller[T any] struct {
	feed      Feed[T]
	requester transport.Requester
	clock     clock.Clock
	interval  time.Duration
	template  transport.Request
	observer  Observer

	mu         sync.Mutex
	polling    bool
	generation uint64 // bumped by Start; ticks from older generations never re-arm
	timer      clock.Timer
	ctx        context.Context
	inFlight   int
	idle       chan struct{} // closed while inFlight == 0
}

var _ Runner = (*Poller[struct{}])(nil)

// New creates a Poller. Configuration errors surface here, never inside the loop.
func New[T any](feed Feed[T], requester transport.Requester, cfg Config, opts ...Option) (*Poller[T], error) {
	if feed == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("feed is required"))
	}
	if requester == nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("feed %s: requester is required", feed.Name()))
	}
	if cfg.Interval <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("feed %s: interval must be positive, got %s", feed.Name(), cfg.Interval))
	}

	o := options{
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	idle := make(chan struct{})
	close(idle)

	return &Poller[T]{
		feed:      feed,
		requester: requester,
		clock:     o.clock,
		interval:  cfg.Interval,
		template:  feed.Request().Clone(),
		observer:  append(Observers{NewLogObserver(o.logger)}, o.observers...),
		idle:      idle,
	}, nil
}

// Name returns the feed name.
func (p *Poller[T]) Name() string {
	return p.feed.Name()
}

// Interval returns the polling period.
func (p *Poller[T]) Interval() time.Duration {
	return p.interval
}

// Start begins polling. The first tick fires one full interval later; use
// Fetch for an immediate warm-up. ctx bounds the transport calls of timer
// ticks. Calling Start while polling is a no-op.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.polling {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.polling = true
	p.generation++
	p.ctx = ctx
	p.armLocked(p.generation, p.interval)
}

// Stop cancels the pending tick. A cycle already running completes but
// schedules nothing. Calling Stop while idle is a no-op.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.polling {
		return
	}
	p.polling = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Polling reports whether the poller is between Start and Stop.
func (p *Poller[T]) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

// InFlight reports whether a cycle is executing.
func (p *Poller[T]) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight > 0
}

// Fetch runs one cycle now, independent of the timer. Without force it is a
// no-op returning OutcomeSkipped while another cycle is in flight.
func (p *Poller[T]) Fetch(ctx context.Context, force bool) Result {
	p.mu.Lock()
	started := p.clock.Now()
	if p.inFlight > 0 && !force {
		p.mu.Unlock()
		res := Result{Feed: p.feed.Name(), Outcome: OutcomeSkipped, Started: started}
		p.observer.ObserveCycle(res)
		return res
	}
	p.beginLocked()
	p.mu.Unlock()

	res := p.cycle(ctx, started, force)

	p.mu.Lock()
	p.endLocked()
	p.mu.Unlock()

	p.observer.ObserveCycle(res)
	return res
}

// Wait blocks until no cycle is in flight or ctx is done.
func (p *Poller[T]) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller[T]) armLocked(gen uint64, d time.Duration) {
	p.timer = p.clock.AfterFunc(d, func() { p.tick(gen) })
}

func (p *Poller[T]) beginLocked() {
	if p.inFlight == 0 {
		p.idle = make(chan struct{})
	}
	p.inFlight++
}

func (p *Poller[T]) endLocked() {
	p.inFlight--
	if p.inFlight == 0 {
		close(p.idle)
	}
}

// tick is the timer callback.
func (p *Poller[T]) tick(gen uint64) {
	p.mu.Lock()
	if !p.polling || gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	ctx := p.ctx
	started := p.clock.Now()

	if p.inFlight > 0 {
		// A forced fetch holds the feed; keep the schedule alive.
		p.armLocked(gen, p.interval)
		p.mu.Unlock()
		p.observer.ObserveCycle(Result{Feed: p.feed.Name(), Outcome: OutcomeSkipped, Started: started})
		return
	}
	p.beginLocked()
	p.mu.Unlock()

	res := p.cycle(ctx, started, false)

	p.mu.Lock()
	p.endLocked()
	if p.polling && gen == p.generation {
		// Fixed rate: the next tick is due one interval after this one started.
		delay := p.interval - p.clock.Now().Sub(started)
		if delay < 0 {
			delay = 0
		}
		p.armLocked(gen, delay)
	}
	p.mu.Unlock()

	p.observer.ObserveCycle(res)
}

// cycle runs authenticate, send, cast and deliver. Nothing escapes it.
func (p *Poller[T]) cycle(ctx context.Context, started time.Time, forced bool) (res Result) {
	res = Result{Feed: p.feed.Name(), Started: started, Forced: forced}
	defer func() {
		res.Duration = p.clock.Now().Sub(started)
	}()

	req := p.template.Clone()
	if err := safely("authenticate", func() error {
		var err error
		req, err = p.feed.Authenticate(req)
		return err
	}); err != nil {
		res.Outcome, res.Err = OutcomeAuthFailed, classify(core.ErrAuth, err)
		return res
	}

	var raw []byte
	if err := safely("send", func() error {
		var err error
		raw, err = p.requester.Send(ctx, req)
		return err
	}); err != nil {
		res.Outcome, res.Err = OutcomeTransportFailed, classify(core.ErrTransport, err)
		return res
	}

	var value T
	if err := safely("cast", func() error {
		var err error
		value, err = p.feed.Cast(raw)
		return err
	}); err != nil {
		res.Outcome, res.Err = OutcomeCastFailed, classify(core.ErrValidation, err)
		return res
	}

	if err := safely("handler", func() error {
		return p.feed.OnResult(ctx, value)
	}); err != nil {
		res.Outcome, res.Err = OutcomeHandlerFailed, classify(core.ErrHandler, err)
		return res
	}

	res.Outcome = OutcomeSucceeded
	return res
}

// classify tags err with base unless it already carries that code.
func classify(base *core.Error, err error) error {
	if errors.Is(err, base) {
		return err
	}
	return core.WrapError(base, err)
}

// safely converts a panic in a feed callback into an error.
func safely(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
		}
	}()
	return fn()
}
