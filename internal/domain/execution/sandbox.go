package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/config"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/monitoring"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/resilience"
	"github.com/SAISURYACHARAN89/codesync/internal/infrastructure/tracing"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

const maxProvisionAttempts = 2

// Options tune the sandbox
type Options struct {
	DefaultBackend         string
	Timeout                time.Duration
	ProvisionTimeout       time.Duration
	ReclaimTimeout         time.Duration
	OutputLimit            int
	SourceLimit            int
	StdinLimit             int
	PartialOutputOnTimeout bool
	RetryBackoff           time.Duration
	MaxConcurrent          int
	QueueTimeout           time.Duration
}

// OptionsFromConfig maps environment configuration onto Options
func OptionsFromConfig(cfg config.SandboxConfig) Options {
	return Options{
		DefaultBackend:         cfg.Backend,
		Timeout:                cfg.Timeout,
		ProvisionTimeout:       cfg.ProvisionTimeout,
		ReclaimTimeout:         30 * time.Second,
		OutputLimit:            cfg.OutputLimit,
		SourceLimit:            cfg.SourceLimit,
		StdinLimit:             cfg.StdinLimit,
		PartialOutputOnTimeout: cfg.PartialOutputOnTimeout,
		RetryBackoff:           cfg.RetryBackoff,
		MaxConcurrent:          cfg.MaxConcurrent,
		QueueTimeout:           cfg.QueueTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.DefaultBackend == "" {
		o.DefaultBackend = BackendContainer
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.ProvisionTimeout <= 0 {
		o.ProvisionTimeout = 2 * time.Minute
	}
	if o.ReclaimTimeout <= 0 {
		o.ReclaimTimeout = 30 * time.Second
	}
	if o.OutputLimit <= 0 {
		o.OutputLimit = 64 << 10
	}
	if o.SourceLimit <= 0 {
		o.SourceLimit = 64 << 10
	}
	if o.StdinLimit <= 0 {
		o.StdinLimit = 64 << 10
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
}

// Deps are the collaborators of a Sandbox. Metrics and Tracer are optional.
type Deps struct {
	Profiles *ProfileStore
	Backends []Backend
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	Logger   *zap.Logger
}

// Sandbox runs untrusted programs, one isolated environment per request.
type Sandbox struct {
	opts     Options
	profiles *ProfileStore
	backends map[string]Backend
	breakers map[string]*resilience.Breaker
	slots    *Slots
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	logger   *zap.Logger

	mu      sync.Mutex
	running map[id.ExecutionID]context.CancelFunc
}

// New creates a sandbox
func New(opts Options, deps Deps) (*Sandbox, error) {
	opts.applyDefaults()

	if len(deps.Backends) == 0 {
		return nil, errors.New("sandbox needs at least one backend")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Profiles == nil {
		store, err := NewProfileStore(DefaultProfiles())
		if err != nil {
			return nil, err
		}
		deps.Profiles = store
	}

	s := &Sandbox{
		opts:     opts,
		profiles: deps.Profiles,
		backends: make(map[string]Backend, len(deps.Backends)),
		breakers: make(map[string]*resilience.Breaker, len(deps.Backends)),
		slots:    NewSlots(opts.MaxConcurrent, opts.QueueTimeout),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
		running:  make(map[id.ExecutionID]context.CancelFunc),
	}

	for _, b := range deps.Backends {
		name := b.Name()
		s.backends[name] = b
		s.breakers[name] = resilience.New("sandbox-"+name, resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A caller giving up says nothing about the backend.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to resilience.State) {
				s.logger.Warn("Sandbox breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return s, nil
}

// Execute validates, provisions, runs and reclaims. Timeouts, compile errors
// and cancellation are reported through Result.Status; the error is non-nil
// only for validation, unsupported language, infrastructure and internal
// failures.
func (s *Sandbox) Execute(ctx context.Context, req Request) (result *Result, err error) {
	const op = "execution.execute"

	if err := s.validate(req); err != nil {
		return nil, err
	}

	profile, ok := s.profiles.Resolve(req.Language)
	if !ok {
		return nil, apperr.UnsupportedLanguage(op, req.Language)
	}
	backendName := profile.Backend
	if backendName == "" {
		backendName = s.opts.DefaultBackend
	}
	backend, ok := s.backends[backendName]
	if !ok {
		return nil, apperr.Infra(op, fmt.Errorf("backend %q not configured", backendName), "execution backend unavailable")
	}

	if err := s.slots.Acquire(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up while queued; nothing was provisioned.
			return &Result{
				ID:        id.NewExecutionID(),
				Language:  profile.Language,
				Backend:   backendName,
				SessionID: req.SessionID,
				Status:    StatusCancelled,
				ExitCode:  -1,
			}, nil
		}
		return nil, apperr.Infra(op, err, "sandbox at capacity")
	}
	defer s.slots.Release()

	execID := id.NewExecutionID()
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.track(execID, cancel)
	defer s.untrack(execID)

	span, execCtx := s.tracer.StartSpan(execCtx, "sandbox.execute")
	span.SetTag("execution_id", string(execID))
	span.SetTag("language", profile.Language)
	span.SetTag("backend", backendName)
	defer s.tracer.Submit(span)

	log := s.logger.With(
		zap.String("execution_id", string(execID)),
		zap.String("language", profile.Language),
		zap.String("backend", backendName),
	)
	states := &stateLog{log: log, span: span}
	states.enter("received")

	var timer *monitoring.Timer
	if s.metrics != nil {
		timer = monitoring.NewTimer(s.metrics, profile.Language, backendName)
	}
	start := time.Now()

	result = &Result{
		ID:        execID,
		Language:  profile.Language,
		Backend:   backendName,
		SessionID: req.SessionID,
		ExitCode:  -1,
	}
	defer func() {
		result.Duration = time.Since(start)
		result.DurationMs = result.Duration.Milliseconds()
		if timer != nil {
			timer.Stop(string(result.Status))
		}
		span.SetTag("status", string(result.Status))
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		log.Info("Execution finished",
			zap.String("status", string(result.Status)),
			zap.Int("exit_code", result.ExitCode),
			zap.Duration("duration", result.Duration),
			zap.Bool("truncated", result.Truncated),
		)
	}()

	states.enter("provisioning")
	env, perr := s.provision(execCtx, backend, profile, req, log)
	if perr != nil {
		if execCtx.Err() != nil {
			result.Status = StatusCancelled
			states.enter("cancelled")
			return result, nil
		}
		result.Status = StatusInfraError
		states.enter("failed")
		return result, apperr.Infra(op, perr, "could not provision execution environment")
	}
	if s.metrics != nil {
		s.metrics.EnvironmentProvisioned(backendName)
	}
	defer func() {
		s.reclaim(ctx, env, backendName, log)
		states.enter("reclaimed")
	}()

	timeout := s.opts.Timeout
	if profile.Timeout > 0 {
		timeout = time.Duration(profile.Timeout)
	}
	runCtx, cancelRun := context.WithTimeout(execCtx, timeout)
	defer cancelRun()

	states.enter("running")
	out := newCapture(s.opts.OutputLimit)
	outcome, runErr := env.Run(runCtx, out.Stdout(), out.Stderr())

	switch {
	case runErr != nil && execCtx.Err() != nil:
		result.Status = StatusCancelled
		states.enter("cancelled")
	case runErr != nil && runCtx.Err() != nil:
		result.Status = StatusTimeout
		states.enter("timed-out")
	case runErr != nil:
		result.Status = StatusInfraError
		states.enter("failed")
		out.fill(result)
		return result, apperr.Infra(op, runErr, "execution environment failed")
	default:
		result.ExitCode = outcome.ExitCode
		switch {
		case outcome.CompileFailed:
			result.Status = StatusCompileError
		case outcome.ExitCode == 0:
			result.Status = StatusSuccess
		default:
			result.Status = StatusRuntimeError
		}
		states.enter("completed")
		out.fill(result)
		return result, nil
	}

	if s.opts.PartialOutputOnTimeout {
		out.fill(result)
		result.Truncated = true
	}
	return result, nil
}

func (s *Sandbox) validate(req Request) error {
	const op = "execution.validate"

	switch {
	case strings.TrimSpace(req.Language) == "":
		return apperr.Validation(op, "language is required")
	case strings.TrimSpace(req.Source) == "":
		return apperr.Validation(op, "source is empty")
	case len(req.Source) > s.opts.SourceLimit:
		return apperr.Validation(op, "source exceeds %d bytes", s.opts.SourceLimit)
	case len(req.Stdin) > s.opts.StdinLimit:
		return apperr.Validation(op, "stdin exceeds %d bytes", s.opts.StdinLimit)
	}
	return nil
}

// provision creates an environment, retrying once on transient failure.
func (s *Sandbox) provision(ctx context.Context, backend Backend, profile Profile, req Request, log *zap.Logger) (Environment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProvisionTimeout)
	defer cancel()

	breaker := s.breakers[backend.Name()]
	backoff := s.opts.RetryBackoff

	var lastErr error
	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		if attempt > 0 {
			log.Warn("Retrying provisioning",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			if s.metrics != nil {
				s.metrics.IncProvisionRetries(backend.Name())
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, lastErr
			}
			backoff *= 2
		}

		env, err := resilience.Execute(breaker, func() (Environment, error) {
			return backend.Provision(ctx, profile, req)
		})
		if err == nil {
			return env, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// reclaim runs on a context detached from the request so a cancelled or
// timed-out caller still gets its environment torn down.
func (s *Sandbox) reclaim(parent context.Context, env Environment, backend string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.ReclaimTimeout)
	defer cancel()

	if err := env.Reclaim(ctx); err != nil {
		log.Error("Failed to reclaim environment", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.EnvironmentReclaimed(backend)
	}
}

func (s *Sandbox) track(execID id.ExecutionID, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[execID] = cancel
	s.mu.Unlock()
}

func (s *Sandbox) untrack(execID id.ExecutionID) {
	s.mu.Lock()
	delete(s.running, execID)
	s.mu.Unlock()
}

// Cancel aborts a running execution. It reports false for unknown or
// finished executions.
func (s *Sandbox) Cancel(execID id.ExecutionID) bool {
	s.mu.Lock()
	cancel, ok := s.running[execID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running lists the ids of executions in flight
func (s *Sandbox) Running() []id.ExecutionID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]id.ExecutionID, 0, len(s.running))
	for execID := range s.running {
		ids = append(ids, execID)
	}
	return ids
}

// Languages returns the configured profiles
func (s *Sandbox) Languages() []Profile {
	return s.profiles.List()
}

// Health reports slot usage and breaker state per backend
type Health struct {
	Slots    SlotStats             `json:"slots"`
	Running  []id.ExecutionID      `json:"running"`
	Breakers []resilience.Snapshot `json:"breakers"`
}

// Health returns a snapshot for the health endpoint
func (s *Sandbox) Health() Health {
	h := Health{Slots: s.slots.Stats(), Running: s.Running()}
	for _, b := range s.breakers {
		h.Breakers = append(h.Breakers, b.Snapshot())
	}
	return h
}

// Close stops accepting executions and cancels those in flight
func (s *Sandbox) Close() {
	s.slots.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.running {
		cancel()
	}
}

// stateLog records lifecycle transitions on the log and the span
type stateLog struct {
	log    *zap.Logger
	span   *tracing.Span
	states []string
}

func (l *stateLog) enter(state string) {
	l.states = append(l.states, state)
	l.log.Debug("Execution state", zap.String("state", state))
	l.span.SetTag("states", strings.Join(l.states, ">"))
}
