package codegen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codeSet struct {
	mu    sync.Mutex
	codes map[string]struct{}
}

func newCodeSet(existing ...string) *codeSet {
	s := &codeSet{codes: make(map[string]struct{})}
	for _, c := range existing {
		s.codes[c] = struct{}{}
	}
	return s
}

func (s *codeSet) reserve(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; ok {
		return ErrTaken
	}
	s.codes[code] = struct{}{}
	return nil
}

func TestCandidate_Shape(t *testing.T) {
	g := New(Config{})

	for i := 0; i < 200; i++ {
		code, err := g.Candidate()
		require.NoError(t, err)
		assert.Len(t, code, DefaultLength)
		assert.True(t, g.Valid(code), code)
	}

	assert.False(t, g.Valid("abc12345"))
	assert.False(t, g.Valid("ABC123"))
}

func TestGenerate_ConcurrentDistinct(t *testing.T) {
	g := New(Config{})
	set := newCodeSet("AAAAAAAA", "ZZZZ9999")

	const n = 500
	codes := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code, err := g.Generate(context.Background(), set.reserve)
			assert.NoError(t, err)
			codes[i] = code
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, c := range codes {
		_, dup := seen[c]
		assert.False(t, dup, "duplicate code %s", c)
		seen[c] = struct{}{}
		assert.NotEqual(t, "AAAAAAAA", c)
	}
	assert.Len(t, seen, n)
}

func TestGenerate_Exhausted(t *testing.T) {
	// a one-symbol alphabet can only ever produce one code
	g := New(Config{Alphabet: "X", Length: 4, MaxAttempts: 3})
	set := newCodeSet("XXXX")

	calls := 0
	_, err := g.Generate(context.Background(), func(ctx context.Context, code string) error {
		calls++
		return set.reserve(ctx, code)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCodeGenerationExhausted))
	assert.Equal(t, 3, calls)
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	g := New(Config{})

	calls := 0
	code, err := g.Generate(context.Background(), func(ctx context.Context, code string) error {
		calls++
		if calls < 3 {
			return ErrTaken
		}
		return nil
	})

	require.NoError(t, err)
	assert.Len(t, code, DefaultLength)
	assert.Equal(t, 3, calls)
}

func TestGenerate_OtherErrorStops(t *testing.T) {
	g := New(Config{})
	boom := errors.New("db down")

	calls := 0
	_, err := g.Generate(context.Background(), func(ctx context.Context, code string) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestGenerate_ContextCancelled(t *testing.T) {
	g := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, func(ctx context.Context, code string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
