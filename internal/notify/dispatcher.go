package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/domain"
	"github.com/propnest/propnest-backend/pkg/config"
)

// Job is one code delivery request.
type Job struct {
	ID         string
	Recipient  string
	Purpose    domain.Purpose
	Code       string
	ValidFor   time.Duration
	EnqueuedAt time.Time
}

// NewJob creates a delivery job with a fresh ID.
func NewJob(recipient string, purpose domain.Purpose, code string, validFor time.Duration) Job {
	return Job{
		ID:         uuid.New().String(),
		Recipient:  recipient,
		Purpose:    purpose,
		Code:       code,
		ValidFor:   validFor,
		EnqueuedAt: time.Now(),
	}
}

// Result reports the outcome of a job. Err is nil on success.
type Result struct {
	JobID     string
	Recipient string
	Purpose   domain.Purpose
	Provider  string
	Attempts  int
	Err       error
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Enqueued     uint64 `json:"enqueued"`
	Delivered    uint64 `json:"delivered"`
	FallbackUsed uint64 `json:"fallback_used"`
	Failed       uint64 `json:"failed"`
	Dropped      uint64 `json:"dropped"`
	QueueLength  int    `json:"queue_length"`
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// Dispatcher delivers jobs on background workers. Callers enqueue and move
// on; outcomes are logged, counted and published on Results.
type Dispatcher struct {
	cfg      config.DispatcherConfig
	primary  Provider
	fallback Provider
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	queue   chan Job
	results chan Result
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	// mu orders Enqueue sends before Stop closes done.
	mu     sync.RWMutex
	closed bool

	enqueued     atomic.Uint64
	delivered    atomic.Uint64
	fallbackUsed atomic.Uint64
	failed       atomic.Uint64
	dropped      atomic.Uint64
}

// NewDispatcher creates a dispatcher. fallback may be nil.
func NewDispatcher(cfg config.DispatcherConfig, primary, fallback Provider, logger *zap.Logger, opts ...Option) *Dispatcher {
	cfg.SetDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		logger:   logger.Named("otp-dispatcher"),
		sleep:    sleepContext,
		queue:    make(chan Job, cfg.QueueSize),
		results:  make(chan Result, cfg.QueueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.run()
		}
		fields := []zap.Field{
			zap.Int("workers", d.cfg.Workers),
			zap.Int("queue_size", d.cfg.QueueSize),
			zap.String("primary", d.primary.Name()),
		}
		if d.fallback != nil {
			fields = append(fields, zap.String("fallback", d.fallback.Name()))
		}
		d.logger.Info("OTP dispatcher started", fields...)
	})
}

// Stop stops accepting jobs and waits for queued jobs to finish. When ctx
// expires first, in-flight retries are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()

		finished := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-ctx.Done():
			d.logger.Warn("OTP dispatcher stop deadline reached, abandoning in-flight deliveries",
				zap.Int("queued", len(d.queue)))
			d.cancel()
			<-finished
		}
		d.cancel()
		close(d.results)
		d.logger.Info("OTP dispatcher stopped")
	})
}

// Enqueue schedules a job without blocking. It returns false when the
// dispatcher is stopped or the queue is full.
func (d *Dispatcher) Enqueue(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Error("OTP delivery dropped, dispatcher stopped",
			zap.String("job_id", job.ID),
			zap.String("purpose", string(job.Purpose)))
		return false
	}

	select {
	case d.queue <- job:
		d.enqueued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Error("OTP delivery dropped, queue full",
			zap.String("job_id", job.ID),
			zap.String("purpose", string(job.Purpose)),
			zap.Int("queue_size", d.cfg.QueueSize))
		return false
	}
}

// Results returns the completion channel. Results are discarded when nobody
// keeps up with the channel. The channel is closed by Stop.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:     d.enqueued.Load(),
		Delivered:    d.delivered.Load(),
		FallbackUsed: d.fallbackUsed.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		QueueLength:  len(d.queue),
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.queue:
			d.publish(d.Deliver(d.ctx, job))
		case <-d.done:
			for {
				select {
				case job := <-d.queue:
					d.publish(d.Deliver(d.ctx, job))
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(result Result) {
	select {
	case d.results <- result:
	default:
	}
}

// Deliver runs the full delivery policy for one job: the primary provider
// with linear backoff between retries, then the fallback provider once.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) Result {
	result := Result{JobID: job.ID, Recipient: job.Recipient, Purpose: job.Purpose}
	logger := d.logger.With(
		zap.String("job_id", job.ID),
		zap.String("recipient", MaskEmail(job.Recipient)),
		zap.String("purpose", string(job.Purpose)),
	)
	if d.cfg.ExposeCodesInLogs {
		logger.Debug("Delivering OTP", zap.String("code", job.Code))
	}

	msg, err := RenderCode(job.Recipient, job.Purpose, job.Code, job.ValidFor)
	if err != nil {
		result.Err = err
		d.reportFailure(logger, result)
		return result
	}

	backoff := time.Duration(d.cfg.BackoffSeconds) * time.Second
	maxAttempts := d.cfg.MaxRetries + 1
	var errs []error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, time.Duration(attempt-1)*backoff); err != nil {
				errs = append(errs, err)
				break
			}
		}

		result.Attempts++
		err := d.attempt(ctx, logger, d.primary, msg, attempt)
		if err == nil {
			result.Provider = d.primary.Name()
			d.delivered.Add(1)
			return result
		}
		errs = append(errs, err)
		if !IsRetryable(err) {
			break
		}
	}

	if d.fallback != nil && ctx.Err() == nil {
		result.Attempts++
		err := d.attempt(ctx, logger, d.fallback, msg, result.Attempts)
		if err == nil {
			result.Provider = d.fallback.Name()
			d.delivered.Add(1)
			d.fallbackUsed.Add(1)
			return result
		}
		errs = append(errs, err)
	}

	result.Err = errors.Join(errs...)
	d.reportFailure(logger, result)
	return result
}

func (d *Dispatcher) attempt(ctx context.Context, logger *zap.Logger, p Provider, msg *Message, attempt int) error {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.AttemptTimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	err := p.Send(attemptCtx, msg)
	fields := []zap.Field{
		zap.String("provider", p.Name()),
		zap.Int("attempt", attempt),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			fields = append(fields, zap.String("error_code", de.Code), zap.Int("upstream_status", de.StatusCode))
		}
		logger.Warn("OTP delivery attempt failed", append(fields, zap.Error(err))...)
		return err
	}
	logger.Info("OTP delivered", fields...)
	return nil
}

func (d *Dispatcher) reportFailure(logger *zap.Logger, result Result) {
	d.failed.Add(1)
	logger.Error("OTP delivery failed on every provider",
		zap.Int("attempts", result.Attempts),
		zap.Error(result.Err))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("component", "otp-dispatcher")
		scope.SetTag("purpose", string(result.Purpose))
		scope.SetContext("delivery", sentry.Context{
			"job_id":   result.JobID,
			"attempts": result.Attempts,
		})
		sentry.CaptureException(result.Err)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaskEmail hides the local part of an address for logging.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	_, size := utf8.DecodeRuneInString(email)
	return email[:size] + "***" + email[at:]
}
