// Package scheduler drives per-endpoint poll cycles.
//
// Every endpoint runs on its own cadence against a shared tick. A
// weighted semaphore bounds global concurrency and a per-endpoint
// mutex guarantees at most one in-flight cycle per endpoint, covering
// scheduled polls and manual syncs alike. Failures back off
// exponentially up to the smaller of the backoff ceiling and the
// endpoint's own interval, so one broken endpoint never floods its
// source nor starves the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"infrapulse/internal/adapter"
	"infrapulse/internal/domain"
	"infrapulse/internal/metrics"
	"infrapulse/internal/repository"
	"infrapulse/internal/service"
)

// Options tune the scheduler loop.
type Options struct {
	Tick           time.Duration
	Workers        int64
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Tick <= 0 {
		o.Tick = 5 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 30 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Minute
	}
}

// defaultCycleBudget bounds cycles for endpoints with no interval of
// their own (manual-sync-only endpoints).
const defaultCycleBudget = 5 * time.Minute

// Scheduler owns the poll loop.
type Scheduler struct {
	endpoints  *service.Endpoints
	reconciler *service.Reconciler
	adapters   *adapter.Registry
	metrics    *metrics.Metrics
	log        zerolog.Logger
	opts       Options

	sem *semaphore.Weighted

	mu     sync.Mutex
	states map[string]*endpointState

	now func() time.Time
}

// endpointState is the per-endpoint bookkeeping. run is held for the
// whole of one cycle; cancel aborts an in-flight cycle on Forget.
type endpointState struct {
	run      sync.Mutex
	mu       sync.Mutex
	failures int
	nextDue  time.Time
	cancel   context.CancelFunc
	dropped  bool
}

// New builds a scheduler.
func New(endpoints *service.Endpoints, reconciler *service.Reconciler, adapters *adapter.Registry, m *metrics.Metrics, opts Options, log zerolog.Logger) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		endpoints:  endpoints,
		reconciler: reconciler,
		adapters:   adapters,
		metrics:    m,
		log:        log.With().Str("component", "scheduler").Logger(),
		opts:       opts,
		sem:        semaphore.NewWeighted(opts.Workers),
		states:     make(map[string]*endpointState),
		now:        time.Now,
	}
}

// Run blocks on the tick loop until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.log.Info().Dur("tick", s.opts.Tick).Int64("workers", s.opts.Workers).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch launches a cycle for every enabled endpoint that is due.
func (s *Scheduler) dispatch(ctx context.Context) {
	eps, err := s.endpoints.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listing endpoints for dispatch")
		return
	}

	now := s.now()
	for _, ep := range eps {
		if !ep.Enabled || ep.PollIntervalSeconds <= 0 {
			continue
		}
		state := s.state(ep.ID)

		state.mu.Lock()
		due := !now.Before(state.nextDue)
		state.mu.Unlock()
		if !due {
			continue
		}
		if !state.run.TryLock() {
			continue
		}

		go s.runScheduled(ctx, ep.ID, state)
	}
}

// runScheduled executes one dispatched cycle. The endpoint row was read
// at tick time, so it is re-read here: a delete or disable racing the
// tick must not start a cycle, and a recreated state entry for a
// forgotten endpoint is dropped instead of lingering.
func (s *Scheduler) runScheduled(ctx context.Context, id string, state *endpointState) {
	defer state.run.Unlock()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	ep, err := s.endpoints.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.dropState(id, state)
		} else {
			s.log.Error().Err(err).Str("endpoint_id", id).Msg("reloading endpoint for cycle")
		}
		return
	}
	if !ep.Enabled {
		return
	}
	s.cycle(ctx, ep, state)
}

// dropState removes the map entry only if it still holds the given
// state, so a Forget racing a later re-registration is not clobbered.
func (s *Scheduler) dropState(id string, state *endpointState) {
	s.mu.Lock()
	if s.states[id] == state {
		delete(s.states, id)
	}
	s.mu.Unlock()
}

// Sync runs one immediate cycle for an endpoint, waiting its turn
// behind any in-flight cycle and the global worker bound.
func (s *Scheduler) Sync(ctx context.Context, id string) (*domain.PollSummary, error) {
	ep, err := s.endpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	state := s.state(id)
	state.run.Lock()
	defer state.run.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	return s.cycle(ctx, ep, state)
}

// Forget aborts any in-flight cycle for the endpoint and drops its
// schedule state. Called after an endpoint is deleted or disabled.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	state, ok := s.states[id]
	if ok {
		delete(s.states, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	state.mu.Lock()
	state.dropped = true
	if state.cancel != nil {
		state.cancel()
	}
	state.mu.Unlock()
}

func (s *Scheduler) state(id string) *endpointState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[id]
	if !ok {
		state = &endpointState{}
		s.states[id] = state
	}
	return state
}

// cycle executes fetch + reconcile for one endpoint and records the
// outcome. The caller holds state.run.
func (s *Scheduler) cycle(ctx context.Context, ep *domain.Endpoint, state *endpointState) (*domain.PollSummary, error) {
	budget := ep.PollInterval()
	if budget <= 0 {
		budget = defaultCycleBudget
	}
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	state.mu.Lock()
	state.cancel = cancel
	state.mu.Unlock()

	s.metrics.InflightPolls.Inc()
	start := s.now()
	summary, err := s.collect(cctx, ep)
	elapsed := s.now().Sub(start)
	s.metrics.InflightPolls.Dec()
	s.metrics.CycleDuration.WithLabelValues(string(ep.Family)).Observe(elapsed.Seconds())

	state.mu.Lock()
	defer state.mu.Unlock()
	state.cancel = nil
	if state.dropped {
		return summary, err
	}

	if err != nil {
		state.failures++
		delay := s.backoffDelay(state.failures, ep.PollInterval())
		state.nextDue = s.now().Add(delay)
		s.metrics.PollCycles.WithLabelValues(string(ep.Family), "error").Inc()
		s.log.Warn().Err(err).
			Str("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Int("failures", state.failures).
			Dur("retry_in", delay).
			Msg("poll cycle failed")
		s.recordHealth(ep.ID, domain.PollStatusError, err.Error())
		return nil, err
	}

	state.failures = 0
	state.nextDue = s.now().Add(ep.PollInterval())
	s.metrics.PollCycles.WithLabelValues(string(ep.Family), "ok").Inc()
	s.log.Info().
		Str("endpoint_id", ep.ID).
		Str("endpoint", ep.Name).
		Dur("elapsed", elapsed).
		Msg("poll cycle complete")
	s.recordHealth(ep.ID, domain.PollStatusOK, "")
	return summary, nil
}

// collect is the failure boundary: vault, adapter and reconcile errors
// all surface here as one cycle failure.
func (s *Scheduler) collect(ctx context.Context, ep *domain.Endpoint) (*domain.PollSummary, error) {
	a, err := s.adapters.ForFamily(ep.Family)
	if err != nil {
		return nil, err
	}
	creds, err := s.endpoints.Credentials(ctx, ep)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	snap, err := a.FetchInventory(ctx, service.AdapterParams(ep), creds)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, ep, snap)
}

// backoffDelay doubles from the initial delay per consecutive failure,
// capped at the configured ceiling. The retry never comes sooner than
// min(interval, ceiling): a failing endpoint keeps at least its own
// cadence between attempts.
func (s *Scheduler) backoffDelay(failures int, interval time.Duration) time.Duration {
	delay := s.opts.BackoffInitial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.opts.BackoffMax {
			break
		}
	}
	if delay > s.opts.BackoffMax {
		delay = s.opts.BackoffMax
	}
	floor := interval
	if floor <= 0 || floor > s.opts.BackoffMax {
		floor = s.opts.BackoffMax
	}
	if delay < floor {
		delay = floor
	}
	return delay
}

// recordHealth writes the cycle outcome on the endpoint row. The cycle
// context may already be expired by now, so the write gets its own
// short deadline.
func (s *Scheduler) recordHealth(id string, status domain.PollStatus, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.endpoints.UpdateHealth(ctx, id, status, message); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error().Err(err).Str("endpoint_id", id).Msg("recording poll health")
	}
}
