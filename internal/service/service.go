package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"matchapos/backend/internal/apperror"
	"matchapos/backend/internal/cart"
	"matchapos/backend/internal/checkout"
	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/logger"
	"matchapos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// RetryPolicy bounds how often a transaction that lost a lock race is
// replayed. Delays grow as BaseDelay * 2^(attempt-1) plus up to BaseDelay
// of jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: 25 * time.Millisecond}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay << (attempt - 1)
	return delay + rand.N(p.BaseDelay)
}

type Service struct {
	repo   store.Repository
	carts  cart.Provider
	engine *checkout.Engine
	retry  RetryPolicy
	log    *logger.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(s *Service) {
		if policy.MaxAttempts < 1 {
			policy.MaxAttempts = 1
		}
		s.retry = policy
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithEngine(engine *checkout.Engine) Option {
	return func(s *Service) {
		if engine != nil {
			s.engine = engine
		}
	}
}

func New(repo store.Repository, carts cart.Provider, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		carts:  carts,
		engine: checkout.NewEngine(),
		retry:  DefaultRetryPolicy,
		log:    logger.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("service")
	return s
}

// withRetry runs fn in a fresh transaction until it commits, fails with a
// non-retryable error, or the attempts run out.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = translateError(s.repo.WithinTx(ctx, fn))
		if err == nil || !apperror.IsRetryable(err) || attempt >= s.retry.MaxAttempts {
			return err
		}

		delay := s.retry.backoff(attempt)
		s.log.WithContext(ctx).Warnw("transaction conflict, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// translateError turns store sentinels into client-facing errors. Errors
// that already carry an AppError pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := apperror.As(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, store.ErrSerializationConflict):
		return apperror.NewSerializationConflict(err)
	case errors.Is(err, store.ErrInsufficientStock):
		return apperror.NewInsufficientStock(nil).WithCause(err)
	case errors.Is(err, store.ErrInvalidInput):
		return apperror.NewValidation(err.Error()).WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return apperror.NewInternal(err)
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, apperror.NewValidation("authenticated user is required")
	}
	return actor, nil
}
