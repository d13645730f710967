package relation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/cptrest/cptrest/internal/model"
)

// Guarded wraps a provider in a circuit breaker. While the breaker is open
// every call fails fast with ErrUnavailable.
type Guarded struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[any]
}

// Guard wraps next. onState, if non-nil, is told about state changes.
func Guard(next Provider, logger *slog.Logger, onState func(open bool)) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "relations",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes say nothing about provider health.
			return err == nil || errors.Is(err, ErrUnknownRelation) ||
				errors.Is(err, ErrExists) || errors.Is(err, ErrLimit) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if onState != nil {
				onState(to == gobreaker.StateOpen)
			}
		},
	}
	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func run[T any](g *Guarded, fn func() (T, error)) (T, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrUnavailable
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (g *Guarded) Definitions(ctx context.Context) ([]model.Relationship, error) {
	return run(g, func() ([]model.Relationship, error) { return g.next.Definitions(ctx) })
}

func (g *Guarded) Definition(ctx context.Context, slug string) (*model.Relationship, error) {
	return run(g, func() (*model.Relationship, error) { return g.next.Definition(ctx, slug) })
}

func (g *Guarded) Instances(ctx context.Context, slug string) ([]model.RelationshipInstance, error) {
	return run(g, func() ([]model.RelationshipInstance, error) { return g.next.Instances(ctx, slug) })
}

func (g *Guarded) Connect(ctx context.Context, slug string, parentID, childID int64) (model.RelationshipInstance, error) {
	return run(g, func() (model.RelationshipInstance, error) { return g.next.Connect(ctx, slug, parentID, childID) })
}

func (g *Guarded) Disconnect(ctx context.Context, slug string, parentID, childID int64) (bool, error) {
	return run(g, func() (bool, error) { return g.next.Disconnect(ctx, slug, parentID, childID) })
}
