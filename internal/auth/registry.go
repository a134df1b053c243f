package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownToken is returned when a bearer token matches no staff entry.
var ErrUnknownToken = errors.New("auth: unknown token")

type staffEntry struct {
	actor string
	hash  decodedHash
}

// Registry resolves bearer tokens to staff actor identities.
type Registry struct {
	entries []staffEntry

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// ParseRegistry builds a Registry from "actor=hash" entries.
func ParseRegistry(entries []string) (*Registry, error) {
	r := &Registry{verified: make(map[[sha256.Size]byte]string)}
	seen := make(map[string]struct{}, len(entries))
	var errs []error

	for i, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		actor, encoded, ok := strings.Cut(raw, "=")
		actor = strings.TrimSpace(actor)
		if !ok || actor == "" {
			errs = append(errs, fmt.Errorf("entry %d: expected actor=hash", i+1))
			continue
		}
		if _, dup := seen[actor]; dup {
			errs = append(errs, fmt.Errorf("entry %d: actor %q listed twice", i+1, actor))
			continue
		}
		d, err := decodeHash(strings.TrimSpace(encoded))
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%s): %w", i+1, actor, err))
			continue
		}
		seen[actor] = struct{}{}
		r.entries = append(r.entries, staffEntry{actor: actor, hash: d})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(r.entries) == 0 {
		return nil, errors.New("auth: no staff tokens configured")
	}
	return r, nil
}

// Authenticate returns the actor owning token. Successful lookups are
// remembered by digest so argon2 runs once per token.
func (r *Registry) Authenticate(token string) (string, error) {
	if r == nil || token == "" {
		return "", ErrUnknownToken
	}
	digest := sha256.Sum256([]byte(token))

	r.mu.RLock()
	actor, ok := r.verified[digest]
	r.mu.RUnlock()
	if ok {
		return actor, nil
	}

	for _, entry := range r.entries {
		if entry.hash.matches(token) {
			r.mu.Lock()
			r.verified[digest] = entry.actor
			r.mu.Unlock()
			return entry.actor, nil
		}
	}
	return "", ErrUnknownToken
}

// Actors lists the configured staff identities in configuration order.
func (r *Registry) Actors() []string {
	out := make([]string, len(r.entries))
	for i, entry := range r.entries {
		out[i] = entry.actor
	}
	return out
}
