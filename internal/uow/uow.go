// Package uow runs a transaction and defers side effects, such as cache
// invalidation and pubsub, until it has committed.
package uow

import (
	"context"

	"github.com/kirinyoku/seatline/internal/repository"
)

// AfterCommit runs once the transaction has committed. It gets a context
// that is detached from the caller's cancellation.
type AfterCommit func(ctx context.Context)

type UoW struct {
	store repository.Store
}

func NewUoW(store repository.Store) *UoW {
	return &UoW{store: store}
}

type hooks []AfterCommit

func (h *hooks) add(fn AfterCommit) {
	if fn != nil {
		*h = append(*h, fn)
	}
}

func (h hooks) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, fn := range h {
		fn(ctx)
	}
}

// Do runs fn inside a store transaction. Hooks registered through after
// fire in order after a successful commit; a rolled back attempt discards
// its hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error,
) error {
	var pending hooks

	if err := u.store.RunTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		pending = pending[:0]
		return fn(ctx, tx, pending.add)
	}); err != nil {
		return err
	}

	pending.run(ctx)

	return nil
}
