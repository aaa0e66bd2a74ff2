package session

import (
	"context"
	"time"

	"github.com/m-mizutani/ytscribe/pkg/adapter"
	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
)

// UseCase provides session artifact operations. Every operation runs a
// cleanup pass before touching the manifest, so callers always observe
// post-policy state.
type UseCase struct {
	store *adapter.SessionStore
	repo  repository.Repository
	clock adapter.Clock
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock sets the clock, mainly for tests
func WithClock(clock adapter.Clock) Option {
	return func(uc *UseCase) {
		uc.clock = clock
	}
}

// New creates a new session UseCase instance
func New(store *adapter.SessionStore, repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{
		store: store,
		repo:  repo,
		clock: adapter.NewClock(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

func (x *UseCase) expiresIn(ttl time.Duration) *string {
	exp := model.FormatTime(x.clock.Now().Add(ttl))
	return &exp
}

// ListItems returns the session's items after a cleanup pass, optionally
// filtered by kind, format and pinned state.
func (x *UseCase) ListItems(ctx context.Context, sid model.SessionID, filter *repository.Filter) ([]*model.ManifestItem, error) {
	if _, err := x.repo.CleanupSession(ctx, sid); err != nil {
		return nil, err
	}
	return x.repo.ListItems(ctx, sid, filter)
}

// CleanupSession runs one lifecycle pass and returns the removed count.
func (x *UseCase) CleanupSession(ctx context.Context, sid model.SessionID) (int, error) {
	return x.repo.CleanupSession(ctx, sid)
}
