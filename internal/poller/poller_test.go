package poller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newthinker/dexfeed/internal/clock/fake"
	"github.com/newthinker/dexfeed/internal/core"
	"github.com/newthinker/dexfeed/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	A int
}

// castPayload accepts bodies of the form "a=<int>".
func castPayload(raw []byte) (payload, error) {
	var p payload
	if _, err := fmt.Sscanf(string(raw), "a=%d", &p.A); err != nil {
		return payload{}, core.WrapError(core.ErrValidation, err)
	}
	return p, nil
}

// countingRequester records call counts and the peak number of concurrent calls.
type countingRequester struct {
	mu      sync.Mutex
	calls   int
	current int
	peak    int
	respond func(call int) ([]byte, error)
}

func (r *countingRequester) Send(ctx context.Context, req transport.Request) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.current++
	if r.current > r.peak {
		r.peak = r.current
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.current--
		r.mu.Unlock()
	}()

	if r.respond == nil {
		return []byte("a=1"), nil
	}
	return r.respond(call)
}

func (r *countingRequester) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *countingRequester) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// blockingRequester holds every call until release is closed.
type blockingRequester struct {
	countingRequester
	entered chan struct{}
	release chan struct{}
}

func newBlockingRequester() *blockingRequester {
	b := &blockingRequester{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	b.respond = func(int) ([]byte, error) {
		b.entered <- struct{}{}
		<-b.release
		return []byte("a=1"), nil
	}
	return b
}

func newTestPoller(t *testing.T, clk *fake.Clock, req transport.Requester, handler func(context.Context, payload) error, opts ...Option) *Poller[payload] {
	t.Helper()
	feed := &Descriptor[payload]{
		FeedName: "test/levels",
		Template: transport.Request{URL: "https://example.com/levels"},
		CastFunc: castPayload,
		Handler:  handler,
	}
	p, err := New[payload](feed, req, Config{Interval: time.Second}, append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return p
}

func waitEntered(t *testing.T, b *blockingRequester) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was never called")
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	feed := &Descriptor[payload]{FeedName: "f", CastFunc: castPayload}
	req := &countingRequester{}

	_, err := New[payload](nil, req, Config{Interval: time.Second})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = New[payload](feed, nil, Config{Interval: time.Second})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))

	_, err = New[payload](feed, req, Config{})
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestPoller_NoBurstOnStart(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}
	p := newTestPoller(t, clk, req, nil)

	p.Start(context.Background())
	assert.True(t, p.Polling())

	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, req.Calls(), "no call before one interval")

	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, req.Calls(), "first call at exactly one interval")

	clk.Advance(3 * time.Second)
	assert.Equal(t, 4, req.Calls())
	p.Stop()
}

func TestPoller_FailuresDoNotBreakSchedule(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{respond: func(call int) ([]byte, error) {
		if call == 2 {
			return nil, errors.New("connection reset")
		}
		return []byte("a=" + strconv.Itoa(call-1)), nil
	}}

	var got []payload
	p := newTestPoller(t, clk, req, func(ctx context.Context, v payload) error {
		got = append(got, v)
		return nil
	})

	p.Start(context.Background())
	clk.Advance(3 * time.Second)
	p.Stop()

	assert.Equal(t, 3, req.Calls())
	assert.Equal(t, []payload{{A: 0}, {A: 2}}, got)
}

func TestPoller_CastFailureIsolation(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{respond: func(call int) ([]byte, error) {
		if call == 1 {
			return []byte("not a payload"), nil
		}
		return []byte("a=7"), nil
	}}

	var results []Result
	var handled int
	p := newTestPoller(t, clk, req, func(ctx context.Context, v payload) error {
		handled++
		return nil
	}, WithObserver(ObserverFunc(func(r Result) { results = append(results, r) })))

	p.Start(context.Background())
	clk.Advance(time.Second)
	assert.Equal(t, 0, handled, "handler not invoked for a cast failure")
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeCastFailed, results[0].Outcome)
	assert.True(t, errors.Is(results[0].Err, core.ErrValidation))

	clk.Advance(time.Second)
	assert.Equal(t, 1, handled, "next cycle still runs on schedule")
	p.Stop()
}

func TestPoller_HandlerFailureIsolation(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}

	calls := 0
	p := newTestPoller(t, clk, req, func(ctx context.Context, v payload) error {
		calls++
		if calls == 1 {
			return errors.New("cache unavailable")
		}
		if calls == 2 {
			panic("boom")
		}
		return nil
	})

	p.Start(context.Background())
	clk.Advance(3 * time.Second)

	assert.True(t, p.Polling())
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, req.Calls())
	p.Stop()
}

func TestPoller_FetchOutcomes(t *testing.T) {
	clk := fake.New(time.Time{})

	t.Run("transport failure", func(t *testing.T) {
		req := &countingRequester{respond: func(int) ([]byte, error) {
			return nil, core.WrapError(core.ErrTransport, errors.New("dial"))
		}}
		res := newTestPoller(t, clk, req, nil).Fetch(context.Background(), false)
		assert.Equal(t, OutcomeTransportFailed, res.Outcome)
		assert.True(t, errors.Is(res.Err, core.ErrTransport))
		assert.True(t, res.Ran())
	})

	t.Run("auth failure skips transport", func(t *testing.T) {
		req := &countingRequester{}
		feed := &Descriptor[payload]{
			FeedName: "auth",
			CastFunc: castPayload,
			AuthFunc: func(r transport.Request) (transport.Request, error) {
				return r, errors.New("missing secret")
			},
		}
		p, err := New[payload](feed, req, Config{Interval: time.Second}, WithClock(clk))
		require.NoError(t, err)

		res := p.Fetch(context.Background(), true)
		assert.Equal(t, OutcomeAuthFailed, res.Outcome)
		assert.True(t, errors.Is(res.Err, core.ErrAuth))
		assert.Equal(t, 0, req.Calls())
		assert.False(t, res.Ran())
	})

	t.Run("transport panic is contained", func(t *testing.T) {
		req := transport.RequesterFunc(func(context.Context, transport.Request) ([]byte, error) {
			panic("nil body")
		})
		res := newTestPoller(t, clk, req, nil).Fetch(context.Background(), false)
		assert.Equal(t, OutcomeTransportFailed, res.Outcome)
	})
}

func TestPoller_AuthenticateRunsPerSend(t *testing.T) {
	clk := fake.New(time.Time{})
	var seen []string
	req := transport.RequesterFunc(func(ctx context.Context, r transport.Request) ([]byte, error) {
		seen = append(seen, r.Header.Get("X-Signed-At"))
		return []byte("a=1"), nil
	})

	feed := &Descriptor[payload]{
		FeedName: "signed",
		Template: transport.Request{URL: "u"},
		CastFunc: castPayload,
		AuthFunc: func(r transport.Request) (transport.Request, error) {
			r.Header.Set("X-Signed-At", strconv.FormatInt(clk.Now().Unix(), 10))
			return r, nil
		},
	}
	p, err := New[payload](feed, req, Config{Interval: time.Second}, WithClock(clk))
	require.NoError(t, err)

	p.Start(context.Background())
	clk.Advance(2 * time.Second)
	p.Stop()

	assert.Equal(t, []string{"1", "2"}, seen, "signature computed at send time")
	assert.Empty(t, feed.Template.Header.Get("X-Signed-At"), "template is never mutated")
}

func TestPoller_StopBeforeFirstTick(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}
	p := newTestPoller(t, clk, req, nil)

	p.Start(context.Background())
	clk.Advance(500 * time.Millisecond)
	p.Stop()
	clk.Advance(4500 * time.Millisecond)

	assert.Equal(t, 0, req.Calls())
	assert.Zero(t, clk.Pending())
	assert.False(t, p.Polling())
}

func TestPoller_StopMidCycle(t *testing.T) {
	clk := fake.New(time.Time{})
	var p *Poller[payload]
	req := &countingRequester{}
	req.respond = func(int) ([]byte, error) {
		p.Stop()
		return []byte("a=1"), nil
	}

	handled := 0
	p = newTestPoller(t, clk, req, func(context.Context, payload) error {
		handled++
		return nil
	})

	p.Start(context.Background())
	clk.Advance(10 * time.Second)

	assert.Equal(t, 1, req.Calls(), "no tick after stop")
	assert.Equal(t, 1, handled, "in-flight cycle still completes")
	assert.Zero(t, clk.Pending())
}

func TestPoller_RestartDuringCycleArmsOnce(t *testing.T) {
	clk := fake.New(time.Time{})
	var p *Poller[payload]
	req := &countingRequester{}
	req.respond = func(call int) ([]byte, error) {
		if call == 1 {
			p.Stop()
			p.Start(context.Background())
		}
		return []byte("a=1"), nil
	}
	p = newTestPoller(t, clk, req, nil)

	p.Start(context.Background())
	clk.Advance(time.Second)
	assert.Equal(t, 1, clk.Pending(), "the old cycle must not re-arm alongside the new start")

	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, req.Calls())
	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, req.Calls())
	p.Stop()
}

func TestPoller_StopStartResumesWithoutBurst(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}
	p := newTestPoller(t, clk, req, nil)

	p.Start(context.Background())
	clk.Advance(time.Second)
	require.Equal(t, 1, req.Calls())

	p.Stop()
	p.Start(context.Background())
	clk.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, req.Calls())
	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, req.Calls())
	p.Stop()
}

func TestPoller_IdempotentLifecycle(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}
	p := newTestPoller(t, clk, req, nil)

	p.Stop() // no-op while idle
	p.Start(context.Background())
	p.Start(context.Background())
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(time.Second)
	assert.Equal(t, 1, req.Calls())

	p.Stop()
	p.Stop()
	assert.False(t, p.Polling())
	assert.Zero(t, clk.Pending())
}

func TestPoller_FixedRate(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}
	req.respond = func(int) ([]byte, error) {
		clk.Advance(300 * time.Millisecond) // cycle takes 300ms of virtual time
		return []byte("a=1"), nil
	}
	p := newTestPoller(t, clk, req, nil)

	p.Start(context.Background())
	clk.Advance(time.Second)
	require.Equal(t, 1, req.Calls())

	// Now at t=1.3s; the next tick is due at t=2s, measured from the tick start.
	clk.Advance(699 * time.Millisecond)
	assert.Equal(t, 1, req.Calls())
	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, req.Calls())
	p.Stop()
}

func TestPoller_FetchSkipsWhileInFlight(t *testing.T) {
	clk := fake.New(time.Time{})
	req := newBlockingRequester()
	p := newTestPoller(t, clk, req, nil)

	done := make(chan Result, 1)
	go func() { done <- p.Fetch(context.Background(), true) }()
	waitEntered(t, req)
	assert.True(t, p.InFlight())

	res := p.Fetch(context.Background(), false)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.False(t, res.Ran())
	assert.Equal(t, 1, req.Calls(), "skipped fetch never reaches the transport")

	close(req.release)
	first := <-done
	assert.Equal(t, OutcomeSucceeded, first.Outcome)
	assert.True(t, first.Forced)

	res = p.Fetch(context.Background(), false)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 2, req.Calls())
	assert.False(t, p.InFlight())
}

func TestPoller_ForceBypassesGuard(t *testing.T) {
	clk := fake.New(time.Time{})
	req := newBlockingRequester()
	p := newTestPoller(t, clk, req, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Fetch(context.Background(), true)
		}()
		waitEntered(t, req)
	}

	assert.Equal(t, 2, req.Peak(), "forced fetches may overlap")
	close(req.release)
	wg.Wait()
}

func TestPoller_NoOverlapUnderConcurrentFetches(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{respond: func(int) ([]byte, error) {
		time.Sleep(time.Millisecond)
		return []byte("a=1"), nil
	}}
	p := newTestPoller(t, clk, req, nil)
	p.Start(context.Background())

	var wg sync.WaitGroup
	var skipped atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Fetch(context.Background(), false).Outcome == OutcomeSkipped {
				skipped.Add(1)
			}
		}()
		if i%10 == 0 {
			clk.Advance(time.Second)
		}
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, 1, req.Peak(), "at most one non-forced cycle in flight")
}

func TestPoller_TimerTickSkippedDuringForcedFetchStillRearms(t *testing.T) {
	clk := fake.New(time.Time{})
	req := newBlockingRequester()
	p := newTestPoller(t, clk, req, nil)

	done := make(chan Result, 1)
	go func() { done <- p.Fetch(context.Background(), true) }()
	waitEntered(t, req)

	p.Start(context.Background())
	clk.Advance(time.Second)
	assert.Equal(t, 1, req.Calls(), "tick skipped while forced fetch in flight")
	assert.Equal(t, 1, clk.Pending(), "schedule stays alive")

	close(req.release)
	<-done

	clk.Advance(time.Second)
	assert.Equal(t, 2, req.Calls())
	p.Stop()
}

func TestPoller_HandlerErrorDoesNotEscapeFetch(t *testing.T) {
	clk := fake.New(time.Time{})
	req := &countingRequester{}

	failing := true
	var got []payload
	p := newTestPoller(t, clk, req, func(ctx context.Context, v payload) error {
		if failing {
			panic("handler exploded")
		}
		got = append(got, v)
		return nil
	})

	var res Result
	assert.NotPanics(t, func() { res = p.Fetch(context.Background(), true) })
	assert.Equal(t, OutcomeHandlerFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, core.ErrHandler))

	failing = false
	res = p.Fetch(context.Background(), true)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, 2, req.Calls())
	assert.Equal(t, []payload{{A: 1}}, got)
}

func TestPoller_Wait(t *testing.T) {
	clk := fake.New(time.Time{})
	req := newBlockingRequester()
	p := newTestPoller(t, clk, req, nil)

	require.NoError(t, p.Wait(context.Background()), "idle poller returns at once")

	go p.Fetch(context.Background(), true)
	waitEntered(t, req)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	close(req.release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, p.Wait(ctx2))
}
