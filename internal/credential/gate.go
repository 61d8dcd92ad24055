// Package credential holds the API key used by every remote call and the
// interaction that asks the user to choose one.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrSelectionCancelled reports that the user dismissed the key prompt.
var ErrSelectionCancelled = errors.New("credential selection cancelled")

// Selector asks the user for an API key. It blocks until the user answers.
type Selector interface {
	SelectAPIKey(ctx context.Context) (string, error)
}

// Gate implements ports.CredentialGate and ports.CredentialSource. The key
// lives in memory only.
type Gate struct {
	selector Selector

	mu  sync.RWMutex
	key string

	// promptMu keeps concurrent callers from stacking selector prompts.
	promptMu sync.Mutex
}

func NewGate(initialKey string, selector Selector) *Gate {
	return &Gate{key: strings.TrimSpace(initialKey), selector: selector}
}

func (g *Gate) HasSelectedCredential(_ context.Context) bool {
	return g.APIKey() != ""
}

// OpenCredentialSelector runs the selector and stores a non-empty answer.
func (g *Gate) OpenCredentialSelector(ctx context.Context) error {
	if g.selector == nil {
		return ErrSelectionCancelled
	}

	g.promptMu.Lock()
	defer g.promptMu.Unlock()

	key, err := g.selector.SelectAPIKey(ctx)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrSelectionCancelled
	}
	g.SetAPIKey(key)
	return nil
}

func (g *Gate) APIKey() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.key
}

func (g *Gate) SetAPIKey(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = strings.TrimSpace(key)
}
