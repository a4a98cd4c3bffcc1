// Package codegen produces reservation codes. Uniqueness is never decided
// here: a candidate is only accepted once the caller's reserve function has
// stored it under a unique constraint.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/kirinyoku/seatline/internal/domain"
)

const (
	DefaultAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultLength      = 8
	DefaultMaxAttempts = 5
)

// ErrTaken is returned by a reserve function when the candidate already
// exists. Any other error aborts generation.
var ErrTaken = errors.New("code taken")

type Config struct {
	Alphabet    string
	Length      int
	MaxAttempts int
}

type Generator struct {
	alphabet    []byte
	length      int
	maxAttempts int
	// largest multiple of len(alphabet) that fits in a byte
	limit int
}

func New(cfg Config) *Generator {
	if cfg.Alphabet == "" || len(cfg.Alphabet) > 256 {
		cfg.Alphabet = DefaultAlphabet
	}

	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	n := len(cfg.Alphabet)

	return &Generator{
		alphabet:    []byte(cfg.Alphabet),
		length:      cfg.Length,
		maxAttempts: cfg.MaxAttempts,
		limit:       256 - 256%n,
	}
}

// Candidate returns a random code. Bytes at or above limit are rejected so
// every symbol is equally likely.
func (g *Generator) Candidate() (string, error) {
	const op = "codegen.Generator.Candidate"

	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length*2)

	for len(out) < g.length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("%s:%w", op, err)
		}

		for _, b := range buf {
			if int(b) >= g.limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%len(g.alphabet)])
			if len(out) == g.length {
				break
			}
		}
	}

	return string(out), nil
}

// Generate draws candidates until reserve accepts one. It returns
// domain.ErrCodeGenerationExhausted after MaxAttempts collisions.
func (g *Generator) Generate(
	ctx context.Context,
	reserve func(ctx context.Context, code string) error,
) (string, error) {
	const op = "codegen.Generator.Generate"

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%s:%w", op, err)
		}

		code, err := g.Candidate()
		if err != nil {
			return "", fmt.Errorf("%s:%w", op, err)
		}

		err = reserve(ctx, code)
		if err == nil {
			return code, nil
		}

		if !errors.Is(err, ErrTaken) {
			return "", fmt.Errorf("%s:%w", op, err)
		}
	}

	return "", fmt.Errorf("%s:%w", op, domain.ErrCodeGenerationExhausted)
}

// Valid reports whether code could have been produced by g.
func (g *Generator) Valid(code string) bool {
	if len(code) != g.length {
		return false
	}

	for i := 0; i < len(code); i++ {
		found := false
		for _, a := range g.alphabet {
			if code[i] == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
