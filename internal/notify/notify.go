// Package notify fans messages out to task participants. State transitions in
// the engine call Dispatcher with a recipient, a human message and a link to
// the affected task; implementations decide where that goes.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/domain"
	"taskdeck/internal/realtime"
	"taskdeck/internal/repo"
)

// Dispatcher delivers a notification to a single recipient.
type Dispatcher interface {
	Notify(ctx context.Context, recipientID, message, link string) error
}

// Noop drops notifications (tests, CLI usage without a server).
type Noop struct{}

func (Noop) Notify(ctx context.Context, recipientID, message, link string) error { return nil }

// Multi sends to all wrapped dispatchers, returning the last error.
type Multi struct {
	dispatchers []Dispatcher
}

func NewMulti(dispatchers ...Dispatcher) *Multi {
	return &Multi{dispatchers: dispatchers}
}

func (m *Multi) Notify(ctx context.Context, recipientID, message, link string) error {
	var lastErr error
	for _, d := range m.dispatchers {
		if err := d.Notify(ctx, recipientID, message, link); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Store persists notifications and, when a registry is attached, pushes them
// to the recipient's live websocket connections.
type Store struct {
	Repo     repo.Repo
	Registry *realtime.Registry
	Now      func() time.Time
}

func (s Store) Notify(ctx context.Context, recipientID, message, link string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	n := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    recipientID,
		Message:   message,
		Link:      link,
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if err := s.Repo.InsertNotification(ctx, nil, n); err != nil {
		return err
	}
	if s.Registry != nil {
		s.Registry.Send(recipientID, n)
	}
	return nil
}
