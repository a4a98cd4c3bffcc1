package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/kirinyoku/seatline/internal/repository"
	"github.com/kirinyoku/seatline/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_RunsHooksAfterCommit(t *testing.T) {
	u := NewUoW(memory.New())

	var order []string
	err := u.Do(context.Background(), func(ctx context.Context, _ repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { order = append(order, "first") })
		after(nil)
		after(func(context.Context) { order = append(order, "second") })
		order = append(order, "body")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"body", "first", "second"}, order)
}

func TestDo_DiscardsHooksOnError(t *testing.T) {
	u := NewUoW(memory.New())
	boom := errors.New("boom")

	ran := false
	err := u.Do(context.Background(), func(ctx context.Context, _ repository.Repos, after func(AfterCommit)) error {
		after(func(context.Context) { ran = true })
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestDo_HookContextOutlivesCaller(t *testing.T) {
	u := NewUoW(memory.New())
	ctx, cancel := context.WithCancel(context.Background())

	var hookErr error
	err := u.Do(ctx, func(ctx context.Context, _ repository.Repos, after func(AfterCommit)) error {
		after(func(ctx context.Context) { hookErr = ctx.Err() })
		return nil
	})
	cancel()

	require.NoError(t, err)
	assert.NoError(t, hookErr)
}
