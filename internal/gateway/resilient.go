package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// Resilient decorates a Gateway with a per-attempt timeout, retries with
// exponential backoff, a circuit breaker, spans and metrics. Insert is never
// retried since it is not idempotent.
type Resilient struct {
	next    Gateway
	breaker *Breaker
	cfg     config.GatewayConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewResilient wraps next. metrics may be nil.
func NewResilient(next Gateway, cfg config.GatewayConfig, metrics *observability.Metrics, logger *zap.Logger) *Resilient {
	cb := cfg.CircuitBreaker
	breaker := NewBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout)
	breaker.OnStateChange(func(s BreakerState) {
		metrics.SetGatewayCircuitBreakerState(float64(s))
		if s == BreakerOpen {
			logger.Warn("gateway circuit breaker opened")
		} else {
			logger.Info("gateway circuit breaker state changed", zap.String("state", s.String()))
		}
	})
	return &Resilient{
		next:    next,
		breaker: breaker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (r *Resilient) Breaker() *Breaker {
	return r.breaker
}

// Select implements Gateway.
func (r *Resilient) Select(ctx context.Context, relation string, q Query) ([]Row, error) {
	var rows []Row
	err := r.call(ctx, OpSelect, relation, true, func(ctx context.Context) error {
		var err error
		rows, err = r.next.Select(ctx, relation, q)
		return err
	})
	return rows, err
}

// Insert implements Gateway.
func (r *Resilient) Insert(ctx context.Context, relation string, rows []Row) ([]Row, error) {
	var inserted []Row
	err := r.call(ctx, OpInsert, relation, false, func(ctx context.Context) error {
		var err error
		inserted, err = r.next.Insert(ctx, relation, rows)
		return err
	})
	return inserted, err
}

// Update implements Gateway.
func (r *Resilient) Update(ctx context.Context, relation string, patch Row, filter Filter) (int64, error) {
	var n int64
	err := r.call(ctx, OpUpdate, relation, true, func(ctx context.Context) error {
		var err error
		n, err = r.next.Update(ctx, relation, patch, filter)
		return err
	})
	return n, err
}

// Delete implements Gateway.
func (r *Resilient) Delete(ctx context.Context, relation string, filter Filter) (int64, error) {
	var n int64
	err := r.call(ctx, OpDelete, relation, true, func(ctx context.Context) error {
		var err error
		n, err = r.next.Delete(ctx, relation, filter)
		return err
	})
	return n, err
}

// Reorder implements Gateway.
func (r *Resilient) Reorder(ctx context.Context, req Reorder) error {
	return r.call(ctx, OpReorder, req.Relation, true, func(ctx context.Context) error {
		return r.next.Reorder(ctx, req)
	})
}

// HealthCheck reports the breaker state and delegates to the wrapped gateway
// when it can check itself.
func (r *Resilient) HealthCheck(ctx context.Context) error {
	if r.breaker.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	if hc, ok := r.next.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (r *Resilient) call(ctx context.Context, op Op, relation string, retry bool, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "gateway."+string(op),
		observability.AttrRelation.String(relation),
		observability.AttrOperation.String(string(op)),
	)

	err := r.execute(ctx, op, retry, fn)

	observability.EndSpanWithError(span, err)
	r.metrics.RecordGatewayRequest(relation, string(op), requestStatus(err), time.Since(start))
	if err != nil {
		r.logger.Debug("gateway call failed",
			zap.String("operation", string(op)),
			zap.String("relation", relation),
			zap.Error(err),
		)
	}
	return err
}

func (r *Resilient) execute(ctx context.Context, op Op, retry bool, fn func(context.Context) error) error {
	attempt := func() error {
		if err := r.breaker.Allow(); err != nil {
			return backoff.Permanent(model.NewBackendUnavailableError())
		}

		actx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}

		err := fn(actx)
		switch {
		case err == nil:
			r.breaker.RecordSuccess()
			return nil
		case ctx.Err() != nil:
			// Caller gave up; not the backend's fault.
			return backoff.Permanent(ctx.Err())
		case isEnvelope(err):
			// The backend answered; the request itself was refused.
			r.breaker.RecordSuccess()
			return backoff.Permanent(err)
		}

		r.breaker.RecordFailure()
		if !retry {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.metrics.RecordGatewayRetry(string(op))
		r.logger.Debug("gateway: retrying after error",
			zap.String("operation", string(op)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(attempt, r.policy(ctx), notify)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return model.NewBackendTimeoutError()
	}
	if isEnvelope(err) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("gateway %s: %w", op, err)
}

func (r *Resilient) policy(ctx context.Context) backoff.BackOff {
	retry := r.cfg.Retry
	exp := backoff.NewExponentialBackOff()
	if retry.BackoffInitial > 0 {
		exp.InitialInterval = retry.BackoffInitial
	}
	if retry.BackoffMultiplier > 0 {
		exp.Multiplier = retry.BackoffMultiplier
	}
	if retry.BackoffMax > 0 {
		exp.MaxInterval = retry.BackoffMax
	}
	exp.MaxElapsedTime = 0

	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(maxAttempts-1)), ctx)
}

func isEnvelope(err error) bool {
	_, ok := model.AsEnvelope(err)
	return ok
}

func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if ee, ok := model.AsEnvelope(err); ok {
		switch ee.Code {
		case model.ErrBackendUnavailable:
			return "circuit_open"
		case model.ErrBackendTimeout:
			return "timeout"
		}
		return "rejected"
	}
	return "error"
}
