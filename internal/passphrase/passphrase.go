package passphrase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	DefaultWords     = 6
	DefaultSeparator = "-"
	maxAttempts      = 64
)

var ErrExhausted = errors.New("passphrase: could not find an unused passphrase")

// Checker reports whether an active session already uses the given hash.
type Checker interface {
	PassphraseInUse(ctx context.Context, hash string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, hash string) (bool, error)

func (f CheckerFunc) PassphraseInUse(ctx context.Context, hash string) (bool, error) {
	return f(ctx, hash)
}

// Generator builds multi-word secrets from a fixed corpus using a
// cryptographically secure source.
type Generator struct {
	words     []string
	count     int
	separator string
	random    io.Reader
	checker   Checker
}

type Option func(*Generator)

// WithRandom replaces crypto/rand.Reader. Tests only.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

func WithWords(words []string) Option {
	return func(g *Generator) { g.words = words }
}

// NewGenerator creates a generator that re-rolls until checker reports the
// hash unused. A nil checker disables the uniqueness check.
func NewGenerator(checker Checker, opts ...Option) *Generator {
	g := &Generator{
		words:     wordList,
		count:     DefaultWords,
		separator: DefaultSeparator,
		random:    rand.Reader,
		checker:   checker,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a passphrase whose hash is not held by any active session.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		phrase, err := g.roll()
		if err != nil {
			return "", err
		}
		if g.checker == nil {
			return phrase, nil
		}
		inUse, err := g.checker.PassphraseInUse(ctx, Hash(phrase))
		if err != nil {
			return "", fmt.Errorf("check passphrase: %w", err)
		}
		if !inUse {
			return phrase, nil
		}
	}
	return "", ErrExhausted
}

func (g *Generator) roll() (string, error) {
	upper := big.NewInt(int64(len(g.words)))
	parts := make([]string, g.count)
	for i := range parts {
		n, err := rand.Int(g.random, upper)
		if err != nil {
			return "", fmt.Errorf("passphrase randomness: %w", err)
		}
		parts[i] = g.words[n.Int64()]
	}
	return strings.Join(parts, g.separator), nil
}

// Hash is the one-way digest stored in place of the passphrase.
func Hash(phrase string) string {
	sum := sha256.Sum256([]byte(phrase))
	return hex.EncodeToString(sum[:])
}

// Normalize trims and lowercases user input the way generated phrases look.
func Normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// ValidFormat reports whether input splits into exactly DefaultWords
// non-empty tokens.
func ValidFormat(input string) bool {
	parts := strings.Split(input, DefaultSeparator)
	if len(parts) != DefaultWords {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
