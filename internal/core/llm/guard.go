package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var ErrProviderUnavailable = errors.New("ai provider unavailable")

// callGuard wraps every provider call in a rate limiter, a circuit breaker and a span.
type callGuard struct {
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	tracer  trace.Tracer
}

func newCallGuard(name string, rpm int, log *slog.Logger) *callGuard {
	if rpm <= 0 {
		rpm = 60
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &callGuard{
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(1, rpm/10)),
		tracer:  otel.Tracer("uwia/llm"),
	}
}

func (g *callGuard) do(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := g.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	defer span.End()

	if err := g.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	res, err := g.breaker.Execute(func() (any, error) { return fn(ctx) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %v", op, ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}
