// Package resilient guards the storage backend with circuit breakers so a
// failing database turns into fast errors instead of piling up callers.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/webitel/im-relay-service/internal/domain/model"
)

var ErrStorageUnavailable = errors.New("storage unavailable")

// Backend is the storage being protected.
type Backend interface {
	InsertChat(ctx context.Context, rec model.ChatRecord) (*model.PersistedChat, error)
	UpdateStatus(ctx context.Context, userID model.UserID, status model.Status) error
}

type Settings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	// IsSuccessful classifies errors that say nothing about backend health
	// (constraint violations, missing rows). Nil counts every error as a failure.
	IsSuccessful func(err error) bool
	Logger       *slog.Logger
}

// Storage wraps a Backend with one breaker per operation family.
type Storage struct {
	next   Backend
	chats  *gobreaker.CircuitBreaker
	status *gobreaker.CircuitBreaker
}

func New(next Backend, s Settings) *Storage {
	return &Storage{
		next:   next,
		chats:  newBreaker("storage.chats", s),
		status: newBreaker("storage.status", s),
	}
}

func newBreaker(name string, s Settings) *gobreaker.CircuitBreaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return s.IsSuccessful != nil && s.IsSuccessful(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("BREAKER_STATE_CHANGED",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

func (r *Storage) InsertChat(ctx context.Context, rec model.ChatRecord) (*model.PersistedChat, error) {
	out, err := r.chats.Execute(func() (interface{}, error) {
		return r.next.InsertChat(ctx, rec)
	})
	if err != nil {
		return nil, unavailable(r.chats, err)
	}
	return out.(*model.PersistedChat), nil
}

func (r *Storage) UpdateStatus(ctx context.Context, userID model.UserID, status model.Status) error {
	_, err := r.status.Execute(func() (interface{}, error) {
		return nil, r.next.UpdateStatus(ctx, userID, status)
	})
	if err != nil {
		return unavailable(r.status, err)
	}
	return nil
}

// State exposes breaker states for health reporting.
func (r *Storage) State() map[string]string {
	return map[string]string{
		r.chats.Name():  r.chats.State().String(),
		r.status.Name(): r.status.State().String(),
	}
}

func unavailable(cb *gobreaker.CircuitBreaker, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, cb.Name(), err)
	}
	return err
}
